package controller

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xbat/xbatctld/pkg/hostbridge"
	"github.com/xbat/xbatctld/pkg/schedadapter"
	"github.com/xbat/xbatctld/pkg/userdir"
)

// schedExecutor and userExecutor adapt the host bridge to the executor
// interfaces the adapters define for themselves. A nil bridge (dev/demo
// mode) answers every command with a transient failure; the adapters never
// reach their executor in that mode, so this is a guard, not a path.

type schedExecutor struct {
	bridge *hostbridge.Bridge
}

func (e schedExecutor) Execute(command string) (schedadapter.ExecResult, error) {
	if e.bridge == nil {
		return schedadapter.ExecResult{ReturnCode: -1}, fmt.Errorf("host bridge not available")
	}
	res, err := e.bridge.Execute(command)
	return schedadapter.ExecResult{ReturnCode: res.ReturnCode, Output: res.Output}, err
}

type userExecutor struct {
	bridge *hostbridge.Bridge
}

func (e userExecutor) Execute(command string) (userdir.ExecResult, error) {
	if e.bridge == nil {
		return userdir.ExecResult{ReturnCode: -1}, fmt.Errorf("host bridge not available")
	}
	res, err := e.bridge.Execute(command)
	return userdir.ExecResult{ReturnCode: res.ReturnCode, Output: res.Output}, err
}

// fixtureLoader resolves scheduler fixture names ("squeue --json v22") to
// files under dir ("squeue_json_v22.json") for dev/demo mode.
func fixtureLoader(dir string) schedadapter.FixtureLoader {
	return func(name string) ([]byte, error) {
		file := strings.NewReplacer("--", "", "  ", " ", " ", "_").Replace(name) + ".json"
		return os.ReadFile(filepath.Join(dir, file))
	}
}
