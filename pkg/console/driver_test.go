package console

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"vrnode/pkg/errors"
	"vrnode/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type device struct {
	conn net.Conn
	mu   sync.Mutex
	got  bytes.Buffer
}

func (d *device) emit(t *testing.T, s string) {
	t.Helper()

	_, err := d.conn.Write([]byte(s))
	assert.NoError(t, err)
}

func (d *device) received() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.got.String()
}

func newTestDriver(t *testing.T, cfg Config) (*Driver, *device) {
	t.Helper()

	host, guest := net.Pipe()
	dev := &device{conn: guest}

	go func() {
		b := make([]byte, 256)

		for {
			n, err := guest.Read(b)
			if n > 0 {
				dev.mu.Lock()
				dev.got.Write(b[:n])
				dev.mu.Unlock()
			}

			if err != nil {
				return
			}
		}
	}()

	drv, err := New(context.Background(), host, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = drv.Close()
		_ = guest.Close()
	})

	return drv, dev
}

func patterns(ss ...string) []Pattern {
	out := make([]Pattern, 0, len(ss))
	for _, s := range ss {
		out = append(out, MustCompile(s))
	}

	return out
}

func TestExpectListOrderWins(t *testing.T) {
	drv, dev := newTestDriver(t, Config{})

	go dev.emit(t, "booting... login: Password:")

	// "Password:" is first in the list even though "login:" comes first in the stream.
	m, err := drv.Expect(context.Background(), patterns("Password:", "login:"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Index)
	assert.Equal(t, "Password:", string(m.Matched))
	assert.Equal(t, "booting... login: ", string(m.Before))
	assert.Empty(t, drv.Buffer())
}

func TestExpectPreservesBytesAcrossCalls(t *testing.T) {
	drv, dev := newTestDriver(t, Config{})

	go dev.emit(t, "abc")

	m, err := drv.Expect(context.Background(), patterns("#"), 100*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrTimedOut)
	assert.Equal(t, 3, m.Received)
	assert.Equal(t, "abc", string(drv.Buffer()))

	go dev.emit(t, "def R1#rest")

	m, err = drv.Expect(context.Background(), patterns("#"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "abcdef R1", string(m.Before))
	assert.Equal(t, "rest", string(drv.Buffer()))
}

func TestExpectTimedOutWithoutBytes(t *testing.T) {
	drv, _ := newTestDriver(t, Config{})

	m, err := drv.Expect(context.Background(), patterns("login:"), 50*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrTimedOut)
	assert.Zero(t, m.Received)
}

func TestExpectRegexPattern(t *testing.T) {
	drv, dev := newTestDriver(t, Config{})

	go dev.emit(t, "\r\nvsrx-01> ")

	m, err := drv.Expect(context.Background(), patterns(`re:[\w-]+> $`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "vsrx-01> ", string(m.Matched))
}

func TestExpectStreamClosed(t *testing.T) {
	drv, dev := newTestDriver(t, Config{})

	require.NoError(t, dev.conn.Close())

	_, err := drv.Expect(context.Background(), patterns("login:"), time.Second)
	assert.ErrorIs(t, err, errors.ErrStreamClosed)
}

func TestWriteAfterAnswersSidePrompt(t *testing.T) {
	drv, dev := newTestDriver(t, Config{
		SidePrompts: []models.SidePrompt{{Pattern: "Overwrite? [y/n]", Answer: "n"}},
	})

	main := MustCompile("(config)#")
	done := make(chan error, 1)

	go func() {
		done <- drv.WriteAfter(context.Background(), &main, "hostname R1", "\r", 2*time.Second)
	}()

	dev.emit(t, "Overwrite? [y/n]")
	require.Eventually(t, func() bool { return dev.received() == "n\r" }, time.Second, 5*time.Millisecond)

	dev.emit(t, "(config)#")

	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return dev.received() == "n\rhostname R1\r" }, time.Second, 5*time.Millisecond)
}

func TestWriteAfterSidePromptLimit(t *testing.T) {
	tt := []struct {
		name    string
		sides   int
		desync  bool
		answers int
	}{
		{name: "k side prompts then main succeeds", sides: 4, answers: 4},
		{name: "k+1 side prompts desync", sides: 5, desync: true, answers: 4},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			drv, dev := newTestDriver(t, Config{
				SidePrompts:    []models.SidePrompt{{Pattern: "[y/n]", Answer: "y"}},
				MaxSidePrompts: 4,
			})

			main := MustCompile("#")
			done := make(chan error, 1)

			go func() {
				done <- drv.WriteAfter(context.Background(), &main, "end", "\r", 5*time.Second)
			}()

			for i := 0; i < tc.sides; i++ {
				dev.emit(t, "[y/n]")

				if i < tc.answers {
					want := i + 1
					require.Eventually(t, func() bool {
						return strings.Count(dev.received(), "y\r") == want
					}, time.Second, 5*time.Millisecond)
				}
			}

			if tc.desync {
				assert.ErrorIs(t, <-done, errors.ErrProtocolDesync)
				assert.NotContains(t, dev.received(), "end\r")

				return
			}

			dev.emit(t, "#")
			require.NoError(t, <-done)
			require.Eventually(t, func() bool { return strings.HasSuffix(dev.received(), "end\r") }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestWriteAfterNilPatternWritesImmediately(t *testing.T) {
	drv, dev := newTestDriver(t, Config{})

	require.NoError(t, drv.WriteAfter(context.Background(), nil, "enable", "\r", time.Second))
	require.Eventually(t, func() bool { return dev.received() == "enable\r" }, time.Second, 5*time.Millisecond)
}

func TestAwaitAnswersSidePromptsBeforeMainPattern(t *testing.T) {
	drv, dev := newTestDriver(t, Config{
		SidePrompts: []models.SidePrompt{{Pattern: "Destination filename [startup-config]?", Answer: ""}},
	})

	done := make(chan Match, 1)

	go func() {
		m, err := drv.Await(context.Background(), patterns("R1#", "R1(config)#"), 2*time.Second)
		assert.NoError(t, err)
		done <- m
	}()

	dev.emit(t, "copy running-config startup-config\r\nDestination filename [startup-config]?")
	require.Eventually(t, func() bool { return dev.received() == "\r" }, time.Second, 5*time.Millisecond)

	dev.emit(t, "\r\n[OK]\r\nR1#")

	m := <-done
	assert.Equal(t, 0, m.Index)
	assert.Equal(t, "R1#", string(m.Matched))
	assert.Equal(t, len("copy running-config startup-config\r\nDestination filename [startup-config]?\r\n[OK]\r\nR1#"), m.Received)
}

func TestWritePaced(t *testing.T) {
	drv, dev := newTestDriver(t, Config{CharDelay: time.Millisecond})

	require.NoError(t, drv.WritePaced(context.Background(), "root", "\r"))
	require.Eventually(t, func() bool { return dev.received() == "root\r" }, time.Second, 5*time.Millisecond)
}

func TestTranscriptRecordsEverything(t *testing.T) {
	var transcript syncBuffer

	drv, dev := newTestDriver(t, Config{Transcript: &transcript})

	go dev.emit(t, "first login:")

	_, err := drv.Expect(context.Background(), patterns("login:"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first login:", transcript.String())
}

func TestCompile(t *testing.T) {
	_, err := Compile("re:[")
	assert.Error(t, err)

	_, err = Compile("")
	assert.Error(t, err)

	_, err = CompileAll([]string{"ok", "re:("})
	assert.Error(t, err)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}
