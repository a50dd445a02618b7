// Package hostbridge is the host bridge (component C1): it hands commands
// to the bare-metal host through a pool of pre-provisioned named pipes and
// reads back the result files a privileged helper on the host side writes.
package hostbridge

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
)

const (
	pipeInitialSleep = 250 * time.Millisecond
	pipeReadSleep    = 500 * time.Millisecond
	pipeReadRetries  = 30
	pipeAcquireTimeout = 15 * time.Second
	pipeCommandTimeout = 15 * time.Second
)

var validPipeName = regexp.MustCompile(`^host-pipe-xbatctld-\d+$`)

// Result is the outcome of a command executed on the host.
type Result struct {
	ReturnCode int
	Output     string
}

// Bridge discovers the FIFO pool under Directory and guards it with a
// counting semaphore plus a mutex-protected freelist.
type Bridge struct {
	directory string
	pool      *pool
}

// Open discovers every FIFO in directory matching the host-pipe-xbatctld-N
// naming convention and builds the bounded pool over them.
func Open(directory string) (*Bridge, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, fmt.Errorf("read pipe directory: %w", err)
	}

	var pipes []string
	for _, e := range entries {
		if e.Type()&os.ModeNamedPipe == 0 {
			continue
		}
		if validPipeName.MatchString(e.Name()) {
			pipes = append(pipes, filepath.Join(directory, e.Name()))
		}
	}
	if len(pipes) == 0 {
		return nil, fmt.Errorf("no valid pipes found in %s", directory)
	}

	lg := log.WithComponent("hostbridge")
	lg.Debug().Int("count", len(pipes)).Msg("discovered host pipes")
	return &Bridge{directory: directory, pool: newPool(pipes)}, nil
}

// PoolSize reports the number of pipes discovered, for the /metrics
// collector.
func (b *Bridge) PoolSize() int { return b.pool.size() }

// InUse reports how many pipes are currently checked out.
func (b *Bridge) InUse() int { return b.pool.inUse() }

// Execute sends command to the host over a pipe and blocks until the
// result files appear or the read-retry budget is exhausted.
func (b *Bridge) Execute(command string) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HostBridgeCommandDuration)

	logger := log.WithComponent("hostbridge")

	pipe, ok := b.pool.acquire(pipeAcquireTimeout)
	if !ok {
		metrics.HostBridgeCommandsFailed.Inc()
		return Result{ReturnCode: -1}, fmt.Errorf("unable to acquire pipe after %s", pipeAcquireTimeout)
	}

	ident := uuid.NewString()
	stdoutPath := filepath.Join(b.directory, ident+"_stdout")
	stderrPath := filepath.Join(b.directory, ident+"_stderr")
	retPath := filepath.Join(b.directory, ident+"_ret")
	cleanup := func() {
		os.Remove(stdoutPath)
		os.Remove(stderrPath)
		os.Remove(retPath)
	}

	if fi, err := os.Lstat(pipe); err != nil || fi.Mode()&os.ModeNamedPipe == 0 {
		b.pool.release(pipe)
		metrics.HostBridgeCommandsFailed.Inc()
		return Result{ReturnCode: -1}, fmt.Errorf("pipe not found at %s", pipe)
	}

	full := fmt.Sprintf("echo '%s;%s' > %s", ident, command, pipe)
	ctx, cancel := execTimeout(pipeCommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", full)
	logger.Debug().Str("command", full).Msg("sending command to host")
	runErr := cmd.Run()
	b.pool.release(pipe)
	if runErr != nil {
		cleanup()
		metrics.HostBridgeCommandsFailed.Inc()
		return Result{ReturnCode: -1}, fmt.Errorf("pipe write failed: %w", runErr)
	}

	time.Sleep(pipeInitialSleep)

	retries := 0
	for !fileExists(retPath) && retries < pipeReadRetries {
		retries++
		time.Sleep(pipeReadSleep)
	}
	if !fileExists(retPath) {
		cleanup()
		metrics.HostBridgeCommandsFailed.Inc()
		return Result{ReturnCode: -1}, fmt.Errorf("no result for command %q within retry budget", command)
	}

	retCode, err := readInt(retPath)
	if err != nil {
		cleanup()
		metrics.HostBridgeCommandsFailed.Inc()
		return Result{ReturnCode: -1}, fmt.Errorf("read return code: %w", err)
	}

	if retCode == 0 {
		out, _ := readTrimmed(stdoutPath)
		cleanup()
		return Result{ReturnCode: 0, Output: out}, nil
	}

	errOut, _ := readTrimmed(stderrPath)
	logger.Error().Str("command", command).Int("retCode", retCode).Str("stderr", errOut).Msg("command failed")
	cleanup()
	metrics.HostBridgeCommandsFailed.Inc()
	return Result{ReturnCode: retCode, Output: errOut}, fmt.Errorf("command exited %d: %s", retCode, errOut)
}
