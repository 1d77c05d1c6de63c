package fabric

import (
	"context"
	"sync"

	"vrnode/pkg/log"
	"vrnode/pkg/wire"
)

// Hub repeats every chunk received from one endpoint to all the others.
type Hub struct {
	endpoints []wire.Endpoint
	opts      Options
}

func NewHub(endpoints []wire.Endpoint, opts Options) *Hub {
	return &Hub{endpoints: endpoints, opts: opts}
}

// Run relays until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	logger := log.GetLogger(ctx).WithField("mode", "hub")

	peers := make([]*Peer, 0, len(h.endpoints))
	for _, ep := range h.endpoints {
		peers = append(peers, NewPeer(ctx, ep, h.opts))
	}

	logger.Infof("hub with %d endpoints", len(peers))

	var wg sync.WaitGroup

	for i, self := range peers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			self.Run(ctx, nil, func(chunk []byte) {
				for j, other := range peers {
					if j == i {
						continue
					}

					// a failed write closes other; its reader reconnects
					_ = other.Write(chunk)
				}
			})
		}()
	}

	wg.Wait()

	return nil
}
