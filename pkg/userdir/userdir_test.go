package userdir

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedExecutor struct {
	replies map[string]ExecResult
	calls   []string
}

func (s *scriptedExecutor) Execute(command string) (ExecResult, error) {
	s.calls = append(s.calls, command)
	if res, ok := s.replies[command]; ok {
		return res, nil
	}
	return ExecResult{ReturnCode: 1}, fmt.Errorf("unknown command %q", command)
}

func demoOn() bool  { return true }
func demoOff() bool { return false }

func TestGetUserInfoDemoProfile(t *testing.T) {
	a := New(nil, demoOn)

	u, err := a.GetUserInfo("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.UserName)
	assert.Equal(t, 1000, u.UIDNumber)
	assert.Equal(t, "/home/xbat", u.HomeDirectory)
}

func TestGetUserInfoResolvesThroughHost(t *testing.T) {
	exec := &scriptedExecutor{replies: map[string]ExecResult{
		"id -u alice":                          {ReturnCode: 0, Output: "1234\n"},
		"id -g alice":                          {ReturnCode: 0, Output: "100\n"},
		"getent passwd alice | cut -d: -f6":    {ReturnCode: 0, Output: "/home/alice\n"},
	}}
	a := New(exec, demoOff)

	u, err := a.GetUserInfo("alice")
	require.NoError(t, err)
	assert.Equal(t, 1234, u.UIDNumber)
	assert.Equal(t, 100, u.GIDNumber)
	assert.Equal(t, "/home/alice", u.HomeDirectory)
}

func TestGetUserInfoRejectsNonNumericIDs(t *testing.T) {
	exec := &scriptedExecutor{replies: map[string]ExecResult{
		"id -u ghost":                       {ReturnCode: 0, Output: "no such user\n"},
		"id -g ghost":                       {ReturnCode: 0, Output: "no such user\n"},
		"getent passwd ghost | cut -d: -f6": {ReturnCode: 2, Output: ""},
	}}
	a := New(exec, demoOff)

	_, err := a.GetUserInfo("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}
