package qemu_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vrerrors "vrnode/pkg/errors"
	"vrnode/pkg/hypervisor/qemu"
)

func newService(t *testing.T, grace time.Duration) (*qemu.Service, afero.Fs) {
	t.Helper()

	fs := afero.NewOsFs()
	svc := qemu.New(&qemu.Config{StateRoot: t.TempDir(), AttachGrace: grace}, fs)

	return svc, fs
}

func TestSpawnAndTerminate(t *testing.T) {
	svc, fs := newService(t, time.Second)

	child, err := svc.Spawn(context.Background(), "main", []string{"sleep", "30"})
	require.NoError(t, err)
	assert.True(t, child.IsAlive())
	assert.Greater(t, child.Pid(), 0)

	pid, err := svc.State("main").PID()
	require.NoError(t, err)
	assert.Equal(t, child.Pid(), pid)

	args, err := afero.ReadFile(fs, svc.State("main").ArgsPath())
	require.NoError(t, err)
	assert.Equal(t, "sleep\n30\n", string(args))

	require.NoError(t, child.Terminate(context.Background(), time.Second))
	assert.False(t, child.IsAlive())

	// idempotent
	require.NoError(t, child.Terminate(context.Background(), time.Second))
}

func TestTerminateEscalates(t *testing.T) {
	svc, _ := newService(t, time.Second)

	child, err := svc.Spawn(context.Background(), "stubborn", []string{"sh", "-c", "trap '' TERM; sleep 30"})
	require.NoError(t, err)

	// let the shell install its trap
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	require.NoError(t, child.Terminate(context.Background(), 300*time.Millisecond))
	assert.False(t, child.IsAlive())
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestReaperNoticesExit(t *testing.T) {
	svc, fs := newService(t, time.Second)

	child, err := svc.Spawn(context.Background(), "short", []string{"sh", "-c", "echo booted; echo oops >&2"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !child.IsAlive() }, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		out, _ := afero.ReadFile(fs, svc.State("short").StdoutPath())
		return string(out) == "booted\n"
	}, time.Second, 10*time.Millisecond)

	stderr, err := afero.ReadFile(fs, svc.State("short").StderrPath())
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(stderr))
}

func TestSpawnFailure(t *testing.T) {
	svc, _ := newService(t, time.Second)

	_, err := svc.Spawn(context.Background(), "main", []string{"/nonexistent/qemu-system-x86_64"})
	assert.ErrorIs(t, err, vrerrors.ErrEmulatorSpawnFailed)

	_, err = svc.Spawn(context.Background(), "main", nil)
	assert.ErrorIs(t, err, vrerrors.ErrEmulatorSpawnFailed)
}

func TestAttachConsole(t *testing.T) {
	svc, _ := newService(t, 2*time.Second)

	// reserve a port, then listen on it a little later
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	accepted := make(chan struct{})

	go func() {
		time.Sleep(300 * time.Millisecond)

		late, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		defer late.Close()

		conn, err := late.Accept()
		if err == nil {
			conn.Close()
		}
		close(accepted)
	}()

	conn, err := svc.AttachConsole(context.Background(), port)
	require.NoError(t, err)
	conn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted")
	}
}

func TestAttachTimeout(t *testing.T) {
	svc, _ := newService(t, 300*time.Millisecond)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	_, err = svc.AttachMonitor(context.Background(), port)
	assert.ErrorIs(t, err, vrerrors.ErrConsoleAttachTimeout)
}
