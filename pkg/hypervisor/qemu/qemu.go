// Package qemu supervises emulator child processes.
package qemu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"vrnode/pkg/defaults"
	vrerrors "vrnode/pkg/errors"
	"vrnode/pkg/log"
	"vrnode/pkg/ports"
)

const (
	HypervisorName = "qemu"

	dialInterval = 250 * time.Millisecond
	dialTimeout  = time.Second
)

// Config represents the configuration options for the emulator supervisor.
type Config struct {
	// StateRoot is the folder holding per-instance state (pid, stdout, console log).
	StateRoot string
	// AttachGrace bounds how long console and monitor connects are retried.
	AttachGrace time.Duration
	// ConsoleHost is where the serial and monitor servers listen.
	ConsoleHost string
}

type Service struct {
	config *Config
	fs     afero.Fs
}

func New(cfg *Config, fs afero.Fs) *Service {
	if cfg.AttachGrace <= 0 {
		cfg.AttachGrace = defaults.ConsoleAttachGrace
	}

	if cfg.ConsoleHost == "" {
		cfg.ConsoleHost = "127.0.0.1"
	}

	if cfg.StateRoot == "" {
		cfg.StateRoot = defaults.StateRootDir
	}

	return &Service{config: cfg, fs: fs}
}

var _ ports.EmulatorService = &Service{}

// State returns the state layout of an instance.
func (s *Service) State(name string) *State {
	return NewState(name, s.config.StateRoot, s.fs)
}

// Spawn starts argv[0] with the rest of argv and returns without waiting.
func (s *Service) Spawn(ctx context.Context, name string, argv []string) (ports.Emulator, error) {
	logger := log.GetLogger(ctx).WithFields(logrus.Fields{
		"service":  HypervisorName,
		"instance": name,
	})

	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command line", vrerrors.ErrEmulatorSpawnFailed)
	}

	vmState := s.State(name)
	if err := vmState.ensure(); err != nil {
		return nil, err
	}

	if err := vmState.SetArgs(argv); err != nil {
		return nil, fmt.Errorf("saving command line: %w", err)
	}

	stdOutFile, err := vmState.openAppend(vmState.StdoutPath())
	if err != nil {
		return nil, err
	}

	stdErrFile, err := vmState.openAppend(vmState.StderrPath())
	if err != nil {
		stdOutFile.Close()
		return nil, err
	}

	//nolint:gosec // argv is composed from the device profile
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = stdOutFile
	cmd.Stderr = stdErrFile
	cmd.Stdin = &bytes.Buffer{}

	if err := cmd.Start(); err != nil {
		stdOutFile.Close()
		stdErrFile.Close()

		return nil, fmt.Errorf("%w: starting %s: %v", vrerrors.ErrEmulatorSpawnFailed, argv[0], err)
	}

	if err := vmState.SetPid(cmd.Process.Pid); err != nil {
		logger.Warnf("saving pid %d: %v", cmd.Process.Pid, err)
	}

	logger.Infof("emulator started with pid %d", cmd.Process.Pid)

	c := newChild(cmd, logger)

	// Reap the process
	go func() {
		c.wait()
		stdOutFile.Close()
		stdErrFile.Close()
	}()

	return c, nil
}

// AttachConsole connects to the serial console server of an instance.
func (s *Service) AttachConsole(ctx context.Context, port int) (net.Conn, error) {
	return s.dial(ctx, "console", port)
}

// AttachMonitor connects to the monitor server of an instance.
func (s *Service) AttachMonitor(ctx context.Context, port int) (net.Conn, error) {
	return s.dial(ctx, "monitor", port)
}

// OpenTranscript opens the console log of an instance for appending.
func (s *Service) OpenTranscript(name string) (io.WriteCloser, error) {
	return s.State(name).OpenTranscript()
}

// dial retries until the emulator listens or the grace period runs out.
func (s *Service) dial(ctx context.Context, what string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(s.config.ConsoleHost, strconv.Itoa(port))
	logger := log.GetLogger(ctx).WithField("addr", addr)

	ctx, cancel := context.WithTimeout(ctx, s.config.AttachGrace)
	defer cancel()

	dialer := net.Dialer{Timeout: dialTimeout}
	ticker := time.NewTicker(dialInterval)
	defer ticker.Stop()

	var lastErr error

	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			logger.Debugf("attached to %s", what)

			return conn, nil
		}

		lastErr = err

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s %s: %v", vrerrors.ErrConsoleAttachTimeout, what, addr, lastErr)
			}

			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
