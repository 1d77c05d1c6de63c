// Package fabric stitches emulator NIC endpoints into a topology: point to
// point bridges, hubs, and adapters to host TAP devices or interfaces.
package fabric

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vrnode/pkg/defaults"
	vrerrors "vrnode/pkg/errors"
	"vrnode/pkg/log"
	"vrnode/pkg/wire"
)

const readChunk = 64 * 1024

// Dialer opens connections; *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options are shared by every relay mode.
type Options struct {
	Resolver     wire.Resolver
	Dialer       Dialer
	Metrics      *Metrics
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{Timeout: 5 * time.Second}
	}

	if o.Metrics == nil {
		o.Metrics = NewMetrics(nil)
	}

	if o.ReconnectMin <= 0 {
		o.ReconnectMin = defaults.ReconnectMin
	}

	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = defaults.ReconnectMax
	}

	return o
}

// Peer is a reconnecting TCP session to one endpoint. Its reader goroutine
// owns dialing; writers use whatever connection is current and never wait
// for one.
type Peer struct {
	ep     wire.Endpoint
	name   string
	opts   Options
	logger *logrus.Entry

	mu        sync.Mutex
	conn      net.Conn
	connected bool
}

func NewPeer(ctx context.Context, ep wire.Endpoint, opts Options) *Peer {
	return &Peer{
		ep:     ep,
		name:   ep.String(),
		opts:   opts.withDefaults(),
		logger: log.GetLogger(ctx).WithField("endpoint", ep.String()),
	}
}

func (p *Peer) String() string {
	return p.name
}

// Connected reports whether a session is currently established.
func (p *Peer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn != nil
}

// Write sends b on the current session. Without one the bytes are dropped
// and ErrNoPeer returned. A failed write closes the session so the reader
// reconnects.
func (p *Peer) Write(b []byte) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		p.opts.Metrics.drop(p.name, len(b))

		return vrerrors.ErrNoPeer
	}

	if _, err := conn.Write(b); err != nil {
		p.logger.Debugf("write failed, reconnecting: %v", err)
		p.drop(conn)

		return fmt.Errorf("writing to %s: %w", p.name, err)
	}

	p.opts.Metrics.tx(p.name, len(b))

	return nil
}

// Run connects, reads until the session fails and reconnects, until ctx is
// done. onConnect runs before the first read of every session.
func (p *Peer) Run(ctx context.Context, onConnect func(), onChunk func([]byte)) {
	buf := make([]byte, readChunk)

	for {
		conn, err := p.dial(ctx)
		if err != nil {
			// dial only gives up on shutdown
			return
		}

		if onConnect != nil {
			onConnect()
		}

		p.set(conn)

		// unblock the read on shutdown
		stop := context.AfterFunc(ctx, func() { p.drop(conn) })

		for {
			n, err := conn.Read(buf)
			if n > 0 {
				p.opts.Metrics.rx(p.name, n)
				onChunk(buf[:n])
			}

			if err != nil {
				if ctx.Err() == nil {
					p.logger.Infof("session lost: %v", err)
				}

				break
			}
		}

		stop()
		p.drop(conn)

		if ctx.Err() != nil {
			return
		}
	}
}

// Close ends the current session; Run reconnects unless its context is done.
func (p *Peer) Close() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn != nil {
		p.drop(conn)
	}
}

func (p *Peer) set(conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		p.opts.Metrics.reconnect(p.name)
	}

	p.conn = conn
	p.connected = true
}

func (p *Peer) drop(conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == conn {
		p.conn = nil
	}

	_ = conn.Close()
}

// dial retries with bounded exponential back-off until connected or ctx
// is done.
func (p *Peer) dial(ctx context.Context) (net.Conn, error) {
	delay := p.opts.ReconnectMin

	for {
		conn, err := p.tryDial(ctx)
		if err == nil {
			p.logger.Debug("connected")

			return conn, nil
		}

		if errors.Is(err, vrerrors.ErrNoPeer) {
			p.logger.Tracef("peer not up yet: %v", err)
		} else {
			p.logger.Debugf("connect failed: %v", err)
		}

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > p.opts.ReconnectMax {
			delay = p.opts.ReconnectMax
		}
	}
}

func (p *Peer) tryDial(ctx context.Context) (net.Conn, error) {
	addr, err := p.ep.Resolve(ctx, p.opts.Resolver)
	if err != nil {
		return nil, err
	}

	return p.opts.Dialer.DialContext(ctx, "tcp", addr)
}
