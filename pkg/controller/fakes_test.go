package controller_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vrnode/pkg/defaults"
	"vrnode/pkg/ports"
)

type fakeEmulator struct {
	pid   int
	alive atomic.Bool

	mu    sync.Mutex
	conns []net.Conn
}

func (e *fakeEmulator) Pid() int      { return e.pid }
func (e *fakeEmulator) IsAlive() bool { return e.alive.Load() }

func (e *fakeEmulator) Terminate(context.Context, time.Duration) error {
	e.exit()

	return nil
}

// exit stops the process and drops its console and monitor servers.
func (e *fakeEmulator) exit() {
	e.alive.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range e.conns {
		c.Close()
	}
}

func (e *fakeEmulator) own(c net.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.conns = append(e.conns, c)
}

type spawn struct {
	name string
	argv []string
	emu  *fakeEmulator
}

// fakeEmulators hands the device side of every console to the test.
type fakeEmulators struct {
	// names lists the instances in profile order
	names []string

	mu       sync.Mutex
	spawns   []spawn
	spawnErr error
	consoles chan *device
	monitor  chan string
}

func newFakeEmulators() *fakeEmulators {
	return &fakeEmulators{
		consoles: make(chan *device, 8),
		monitor:  make(chan string, 8),
	}
}

var _ ports.EmulatorService = &fakeEmulators{}

func (f *fakeEmulators) Spawn(_ context.Context, name string, argv []string) (ports.Emulator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.spawnErr != nil {
		return nil, f.spawnErr
	}

	emu := &fakeEmulator{pid: 1000 + len(f.spawns)}
	emu.alive.Store(true)

	f.spawns = append(f.spawns, spawn{name: name, argv: argv, emu: emu})

	return emu, nil
}

func (f *fakeEmulators) spawned() []spawn {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]spawn(nil), f.spawns...)
}

func (f *fakeEmulators) last(name string) *fakeEmulator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.spawns) - 1; i >= 0; i-- {
		if f.spawns[i].name == name {
			return f.spawns[i].emu
		}
	}

	return nil
}

// emulatorAt maps a console or monitor port back to the latest spawn of
// the instance at that index.
func (f *fakeEmulators) emulatorAt(port, base int) *fakeEmulator {
	idx := port - base
	if idx >= 0 && idx < len(f.names) {
		return f.last(f.names[idx])
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.spawns[len(f.spawns)-1].emu
}

func (f *fakeEmulators) AttachConsole(_ context.Context, port int) (net.Conn, error) {
	client, server := net.Pipe()
	emu := f.emulatorAt(port, defaults.ConsolePortBase)

	emu.own(server)
	f.consoles <- newDevice(server)

	return client, nil
}

func (f *fakeEmulators) AttachMonitor(_ context.Context, port int) (net.Conn, error) {
	client, server := net.Pipe()
	emu := f.emulatorAt(port, defaults.MonitorPortBase)

	go func() {
		defer server.Close()

		_, _ = server.Write([]byte("QEMU monitor\r\n(qemu) "))

		r := bufio.NewReader(server)

		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}

			cmd := strings.TrimSpace(line)
			f.monitor <- cmd

			_, _ = server.Write([]byte(cmd + "\r\n(qemu) "))

			if cmd == "system_powerdown" {
				go func() {
					time.Sleep(50 * time.Millisecond)
					emu.exit()
				}()
			}
		}
	}()

	return client, nil
}

func (f *fakeEmulators) OpenTranscript(string) (io.WriteCloser, error) {
	return nopCloser{io.Discard}, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// device is the emulator side of a serial console.
type device struct {
	conn  net.Conn
	lines chan string
}

func newDevice(conn net.Conn) *device {
	d := &device{conn: conn, lines: make(chan string, 64)}

	go func() {
		defer close(d.lines)

		r := bufio.NewReader(conn)

		for {
			line, err := r.ReadString('\r')
			if err != nil {
				return
			}

			d.lines <- strings.TrimSuffix(line, "\r")
		}
	}()

	return d
}

func (d *device) say(t *testing.T, s string) {
	t.Helper()

	_, err := d.conn.Write([]byte(s))
	require.NoError(t, err)
}

func (d *device) expectLine(t *testing.T, want string) {
	t.Helper()

	select {
	case got, ok := <-d.lines:
		require.True(t, ok, "console closed while waiting for %q", want)
		require.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("device never received %q", want)
	}
}

func (f *fakeEmulators) nextConsole(t *testing.T) *device {
	t.Helper()

	select {
	case d := <-f.consoles:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("controller never attached a console")
		return nil
	}
}

type fakeNetwork struct {
	ports.NetworkService

	mu      sync.Mutex
	bridges []string
	created []ports.IfaceCreateInput
	deleted []string
}

func (n *fakeNetwork) BridgeEnsure(_ context.Context, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.bridges = append(n.bridges, name)

	return nil
}

func (n *fakeNetwork) IfaceExists(context.Context, string) (bool, error) {
	return false, nil
}

func (n *fakeNetwork) IfaceCreate(_ context.Context, in ports.IfaceCreateInput) (*ports.IfaceDetails, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.created = append(n.created, in)

	return &ports.IfaceDetails{DeviceName: in.DeviceName, MAC: in.MAC}, nil
}

func (n *fakeNetwork) IfaceDelete(_ context.Context, in ports.DeleteIfaceInput) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.deleted = append(n.deleted, in.DeviceName)

	return nil
}

func (n *fakeNetwork) snapshot() (bridges []string, created []ports.IfaceCreateInput, deleted []string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.bridges...),
		append([]ports.IfaceCreateInput(nil), n.created...),
		append([]string(nil), n.deleted...)
}

var errNoRunner = errors.New("no external tools in tests")

type failingRunner struct{}

func (failingRunner) Run(context.Context, string, ...string) ([]byte, error) {
	return nil, errNoRunner
}
