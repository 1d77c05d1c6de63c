package qemu

import (
	"context"
	"fmt"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const killWait = 2 * time.Second

type child struct {
	cmd    *exec.Cmd
	alive  atomic.Bool
	exited chan struct{}
	err    error
	logger *logrus.Entry
}

func newChild(cmd *exec.Cmd, logger *logrus.Entry) *child {
	c := &child{
		cmd:    cmd,
		exited: make(chan struct{}),
		logger: logger,
	}
	c.alive.Store(true)

	return c
}

func (c *child) wait() {
	c.err = c.cmd.Wait()
	c.alive.Store(false)
	close(c.exited)

	if c.err != nil {
		c.logger.Warnf("emulator exited: %v", c.err)
	} else {
		c.logger.Info("emulator exited")
	}
}

func (c *child) Pid() int {
	return c.cmd.Process.Pid
}

func (c *child) IsAlive() bool {
	return c.alive.Load()
}

// Exited is closed once the process has been reaped.
func (c *child) Exited() <-chan struct{} {
	return c.exited
}

// Terminate sends SIGTERM, then SIGKILL once grace has passed, and waits
// for the process to be reaped.
func (c *child) Terminate(ctx context.Context, grace time.Duration) error {
	if !c.IsAlive() {
		return nil
	}

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		c.logger.Debugf("sending SIGTERM: %v", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-c.exited:
		return nil
	case <-timer.C:
		c.logger.Warn("emulator ignored SIGTERM, sending SIGKILL")
	case <-ctx.Done():
		c.logger.Warn("terminate cancelled, sending SIGKILL")
	}

	if err := c.cmd.Process.Kill(); err != nil {
		c.logger.Errorf("sending SIGKILL: %v", err)
	}

	select {
	case <-c.exited:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("emulator pid %d did not exit after SIGKILL", c.Pid())
	}
}
