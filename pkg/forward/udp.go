package forward

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const maxDatagram = 64 * 1024

type udpSession struct {
	client   net.Addr
	upstream net.Conn

	mu   sync.Mutex
	seen time.Time
}

func (s *udpSession) touch() {
	s.mu.Lock()
	s.seen = time.Now()
	s.mu.Unlock()
}

func (s *udpSession) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return time.Since(s.seen)
}

// udpRelay gives every client address its own upstream socket so replies
// find their way back.
type udpRelay struct {
	pc     net.PacketConn
	rule   Rule
	idle   time.Duration
	dialer *net.Dialer
	logger *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*udpSession
	wg       sync.WaitGroup
}

func (r *Relay) relayUDP(ctx context.Context, pc net.PacketConn, rule Rule, logger *logrus.Entry) {
	u := &udpRelay{
		pc:       pc,
		rule:     rule,
		idle:     r.cfg.UDPIdle,
		dialer:   &r.dialer,
		logger:   logger,
		sessions: map[string]*udpSession{},
	}

	u.run(ctx)
}

func (u *udpRelay) run(ctx context.Context) {
	defer func() {
		u.mu.Lock()
		for _, s := range u.sessions {
			s.upstream.Close()
		}
		u.mu.Unlock()

		u.wg.Wait()
	}()

	buf := make([]byte, maxDatagram)

	for {
		n, client, err := u.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil {
				u.logger.WithError(err).Error("failed to read datagram")
			}

			return
		}

		s, err := u.session(ctx, client)
		if err != nil {
			u.logger.WithError(err).Warnf("failed to open upstream for %s", client)

			continue
		}

		s.touch()

		if _, err := s.upstream.Write(buf[:n]); err != nil {
			u.logger.WithError(err).Debugf("forwarding datagram from %s", client)
		}
	}
}

func (u *udpRelay) session(ctx context.Context, client net.Addr) (*udpSession, error) {
	key := client.String()

	u.mu.Lock()
	defer u.mu.Unlock()

	if s, ok := u.sessions[key]; ok {
		return s, nil
	}

	upstream, err := u.dialer.DialContext(ctx, "udp", u.rule.target())
	if err != nil {
		return nil, err
	}

	s := &udpSession{client: client, upstream: upstream, seen: time.Now()}
	u.sessions[key] = s

	u.logger.Debugf("new udp client %s", key)

	u.wg.Add(1)

	go func() {
		defer u.wg.Done()

		u.replies(s)

		u.mu.Lock()
		if u.sessions[key] == s {
			delete(u.sessions, key)
		}
		u.mu.Unlock()
	}()

	return s, nil
}

// replies copies datagrams from the device back to one client until the
// session has been idle in both directions for too long.
func (u *udpRelay) replies(s *udpSession) {
	defer s.upstream.Close()

	buf := make([]byte, maxDatagram)

	for {
		_ = s.upstream.SetReadDeadline(time.Now().Add(u.idle))

		n, err := s.upstream.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && s.idleFor() < u.idle {
				continue
			}

			u.logger.Debugf("closing udp client %s: %v", s.client, err)

			return
		}

		s.touch()

		if _, err := u.pc.WriteTo(buf[:n], s.client); err != nil {
			u.logger.WithError(err).Debugf("replying to %s", s.client)

			return
		}
	}
}
