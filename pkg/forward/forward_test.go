package forward_test

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vrerrors "vrnode/pkg/errors"
	"vrnode/pkg/forward"
	"vrnode/pkg/models"
	"vrnode/pkg/ports"
)

func TestParseRule(t *testing.T) {
	r, err := forward.ParseRule("tcp:22:2022")
	require.NoError(t, err)
	assert.Equal(t, forward.Rule{Proto: "tcp", ListenPort: 22, TargetPort: 2022}, r)
	assert.Equal(t, "tcp:22:2022", r.String())

	r, err = forward.ParseRule("UDP:161:2161")
	require.NoError(t, err)
	assert.Equal(t, "udp", r.Proto)

	for _, bad := range []string{"tcp:22", "sctp:1:2", "tcp:x:2", "tcp:22:70000"} {
		_, err := forward.ParseRule(bad)
		assert.ErrorIs(t, err, vrerrors.ErrUserInput, bad)
	}
}

func TestRulesFor(t *testing.T) {
	p := &models.Profile{Forwards: []models.PortForward{
		{Proto: "tcp", HostPort: 2022, GuestPort: 22},
		{Proto: "UDP", HostPort: 2161, GuestPort: 161},
	}}

	assert.Equal(t, []forward.Rule{
		{Proto: "tcp", ListenPort: 22, TargetPort: 2022},
		{Proto: "udp", ListenPort: 161, TargetPort: 2161},
	}, forward.RulesFor(p))
}

type natRecorder struct {
	ports.NetworkService
	got []ports.NATInput
	err error
}

func (n *natRecorder) ForwardNAT(_ context.Context, in ports.NATInput) error {
	n.got = append(n.got, in)

	return n.err
}

func TestInstallNAT(t *testing.T) {
	rec := &natRecorder{}
	rules := []forward.Rule{{Proto: "tcp", ListenPort: 22, TargetPort: 2022}, {Proto: "udp", ListenPort: 161, TargetPort: 2161}}

	require.NoError(t, forward.InstallNAT(context.Background(), rec, rules))
	assert.Equal(t, []ports.NATInput{
		{Proto: "tcp", ListenPort: 22, TargetPort: 2022},
		{Proto: "udp", ListenPort: 161, TargetPort: 2161},
	}, rec.got)

	rec = &natRecorder{err: errors.New("iptables missing")}
	assert.Error(t, forward.InstallNAT(context.Background(), rec, rules))
	assert.Len(t, rec.got, 1)
}

func freePort(t *testing.T, network string) int {
	t.Helper()

	if network == "udp" {
		c, err := net.ListenPacket("udp", "127.0.0.1:0")
		require.NoError(t, err)
		defer c.Close()

		return c.LocalAddr().(*net.UDPAddr).Port
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}

func startRelay(t *testing.T, rules ...forward.Rule) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- forward.NewRelay(rules, forward.Config{ListenHost: "127.0.0.1", UDPIdle: time.Second}).Listen(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestRelayTCP(t *testing.T) {
	device, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer device.Close()

	go func() {
		for {
			c, err := device.Accept()
			if err != nil {
				return
			}

			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()

	listen := freePort(t, "tcp")
	startRelay(t, forward.Rule{Proto: "tcp", ListenPort: listen, TargetPort: device.Addr().(*net.TCPAddr).Port})

	var c net.Conn

	require.Eventually(t, func() bool {
		c, err = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(listen)))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	defer c.Close()

	_, err = c.Write([]byte("show version\n"))
	require.NoError(t, err)

	buf := make([]byte, 13)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "show version\n", string(buf))
}

func TestRelayUDP(t *testing.T) {
	device, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer device.Close()

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := device.ReadFrom(buf)
			if err != nil {
				return
			}

			_, _ = device.WriteTo(append([]byte("re:"), buf[:n]...), from)
		}
	}()

	listen := freePort(t, "udp")
	startRelay(t, forward.Rule{Proto: "udp", ListenPort: listen, TargetPort: device.LocalAddr().(*net.UDPAddr).Port})

	c, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(listen)))
	require.NoError(t, err)
	defer c.Close()

	buf := make([]byte, 64)

	// the relay may not be bound yet; datagrams sent before are lost
	require.Eventually(t, func() bool {
		if _, err := c.Write([]byte("get")); err != nil {
			return false
		}

		_ = c.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := c.Read(buf)

		return err == nil && string(buf[:n]) == "re:get"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRelayBindFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	taken := l.Addr().(*net.TCPAddr).Port
	relay := forward.NewRelay([]forward.Rule{{Proto: "tcp", ListenPort: taken, TargetPort: 1}}, forward.Config{ListenHost: "127.0.0.1"})

	assert.Error(t, relay.Listen(context.Background()))
}
