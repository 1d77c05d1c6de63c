package fabric

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"vrnode/pkg/log"
	"vrnode/pkg/wire"
)

var errBadPair = errors.New("expected two endpoints")

// Pair is one point-to-point link.
type Pair struct {
	A wire.Endpoint
	B wire.Endpoint
}

// ParsePair parses "hostA/1--hostB/2" or "hostA/1,hostB/2".
func ParsePair(s string) (Pair, error) {
	left, right, ok := strings.Cut(s, "--")
	if !ok {
		left, right, ok = strings.Cut(s, ",")
	}

	if !ok {
		return Pair{}, fmt.Errorf("link %q: %w", s, errBadPair)
	}

	a, err := wire.ParseEndpoint(left)
	if err != nil {
		return Pair{}, err
	}

	b, err := wire.ParseEndpoint(right)
	if err != nil {
		return Pair{}, err
	}

	return Pair{A: a, B: b}, nil
}

// Bridge shuttles bytes verbatim between the two ends of every pair.
type Bridge struct {
	pairs []Pair
	opts  Options
}

func NewBridge(pairs []Pair, opts Options) *Bridge {
	return &Bridge{pairs: pairs, opts: opts}
}

// Run relays until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	logger := log.GetLogger(ctx).WithField("mode", "bridge")

	var wg sync.WaitGroup

	for _, pair := range b.pairs {
		a := NewPeer(ctx, pair.A, b.opts)
		z := NewPeer(ctx, pair.B, b.opts)

		logger.Infof("linking %s <-> %s", a, z)

		wg.Add(2)

		go func() {
			defer wg.Done()
			a.Run(ctx, nil, func(chunk []byte) { _ = z.Write(chunk) })
		}()

		go func() {
			defer wg.Done()
			z.Run(ctx, nil, func(chunk []byte) { _ = a.Write(chunk) })
		}()
	}

	wg.Wait()

	return nil
}
