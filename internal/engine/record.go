package engine

import (
	"bytes"
	"context"
	"errors"
	"io/fs"

	"github.com/pingsantohq/pathprobe/internal/config"
)

// LiveRun returns the run recorded in dir when its owning process is still
// alive. A record left behind by a dead process is reported as stale.
func LiveRun(ctx context.Context, dir string) (state config.State, live bool, err error) {
	state, err = config.LoadState(ctx, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return state, false, nil
		}
		return state, false, err
	}
	return state, ownerAlive(state), nil
}

// ownerAlive reports whether the process that wrote state still runs. When
// the record carries a process start identity and the pid now belongs to a
// process that started at another time, the pid was reused.
func ownerAlive(state config.State) bool {
	if !ProcessAlive(state.PID) {
		return false
	}
	if state.ProcessStart == "" {
		return true
	}
	current := ProcessIdentity(state.PID)
	return current == "" || current == state.ProcessStart
}

// startTimeFromStat extracts field 22 (starttime). The command name in field
// 2 may contain spaces and parentheses, so fields are counted after the last
// closing parenthesis.
func startTimeFromStat(stat []byte) string {
	end := bytes.LastIndexByte(stat, ')')
	if end < 0 {
		return ""
	}
	fields := bytes.Fields(stat[end+1:])
	const startTimeIndex = 22 - 3
	if len(fields) <= startTimeIndex {
		return ""
	}
	return string(fields[startTimeIndex])
}
