package qemu

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"vrnode/pkg/console"
)

const (
	monitorPrompt  = "(qemu) "
	monitorTimeout = 10 * time.Second
)

var monitorPrompts = []console.Pattern{console.MustCompile(monitorPrompt)}

// Monitor speaks the human monitor protocol.
type Monitor struct {
	drv *console.Driver
}

// NewMonitor waits for the first prompt on conn.
func NewMonitor(ctx context.Context, conn io.ReadWriteCloser) (*Monitor, error) {
	drv, err := console.New(ctx, conn, console.Config{})
	if err != nil {
		return nil, err
	}

	if _, err := drv.Expect(ctx, monitorPrompts, monitorTimeout); err != nil {
		drv.Close()

		return nil, fmt.Errorf("waiting for monitor prompt: %w", err)
	}

	return &Monitor{drv: drv}, nil
}

// Command runs one monitor command and returns its output.
func (m *Monitor) Command(ctx context.Context, cmd string) (string, error) {
	if err := m.drv.Write(cmd, "\n"); err != nil {
		return "", fmt.Errorf("monitor %s: %w", cmd, err)
	}

	match, err := m.drv.Expect(ctx, monitorPrompts, monitorTimeout)
	if err != nil {
		return "", fmt.Errorf("monitor %s: %w", cmd, err)
	}

	out := strings.TrimSpace(string(match.Before))
	// the monitor echoes the command back
	out = strings.TrimSpace(strings.TrimPrefix(out, cmd))

	return out, nil
}

// Powerdown asks the guest to shut down through ACPI.
func (m *Monitor) Powerdown(ctx context.Context) error {
	_, err := m.Command(ctx, "system_powerdown")

	return err
}

// Quit stops the emulator immediately.
func (m *Monitor) Quit() error {
	if err := m.drv.Write("quit", "\n"); err != nil {
		return fmt.Errorf("monitor quit: %w", err)
	}

	return nil
}

func (m *Monitor) Close() error {
	return m.drv.Close()
}
