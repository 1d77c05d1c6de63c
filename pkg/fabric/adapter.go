package fabric

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	vrerrors "vrnode/pkg/errors"
	"vrnode/pkg/log"
	"vrnode/pkg/wire"
)

const maxFrame = wire.MaxPayload + 18

// Adapter bridges a host frame device (TAP or raw socket) to one emulator
// NIC. Frames are length-prefixed on the TCP side.
type Adapter struct {
	name   string
	dev    io.ReadWriteCloser
	ep     wire.Endpoint
	opts   Options
	logger *logrus.Entry
}

// NewAdapter takes ownership of dev; name labels it in logs and metrics.
func NewAdapter(name string, dev io.ReadWriteCloser, ep wire.Endpoint, opts Options) *Adapter {
	return &Adapter{
		name: name,
		dev:  dev,
		ep:   ep,
		opts: opts.withDefaults(),
	}
}

// Run relays until ctx is done or the device fails.
func (a *Adapter) Run(ctx context.Context) error {
	a.logger = log.GetLogger(ctx).WithFields(logrus.Fields{
		"device":   a.name,
		"endpoint": a.ep.String(),
	})

	peer := NewPeer(ctx, a.ep, a.opts)
	dec := wire.NewDecoder()

	var (
		wg     sync.WaitGroup
		devErr error
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)

	go func() {
		defer wg.Done()

		// the decoder restarts with every session
		peer.Run(ctx, dec.Reset, func(chunk []byte) {
			frames, err := dec.Feed(chunk)
			for _, f := range frames {
				a.toDevice(f)
			}

			if err != nil {
				a.logger.Warnf("framing lost, reconnecting: %v", err)
				peer.Close()
			}
		})
	}()

	wg.Add(1)

	go func() {
		defer wg.Done()
		defer cancel()

		devErr = a.fromDevice(ctx, peer)
	}()

	<-ctx.Done()
	a.dev.Close()
	wg.Wait()

	return devErr
}

func (a *Adapter) toDevice(frame []byte) {
	if len(frame) == 0 {
		return
	}

	if _, err := a.dev.Write(frame); err != nil {
		a.logger.Debugf("writing frame to device: %v", err)

		return
	}

	a.opts.Metrics.frame(a.name, dirTx)
}

// fromDevice wraps every frame read from the device and sends it to the
// peer, dropping frames while it is disconnected.
func (a *Adapter) fromDevice(ctx context.Context, peer *Peer) error {
	buf := make([]byte, maxFrame)

	for {
		n, err := a.dev.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("reading from %s: %w", a.name, err)
		}

		if n == 0 {
			continue
		}

		if n > wire.MaxPayload {
			a.logger.Warnf("dropping oversize frame of %d bytes", n)

			continue
		}

		a.opts.Metrics.frame(a.name, dirRx)

		if err := peer.Write(wire.Encode(buf[:n])); err != nil && !errors.Is(err, vrerrors.ErrNoPeer) {
			a.logger.Debugf("forwarding frame: %v", err)
		}
	}
}
