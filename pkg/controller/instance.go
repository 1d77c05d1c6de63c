package controller

import (
	"context"
	"sync"
	"time"

	"vrnode/pkg/bringup"
	"vrnode/pkg/models"
	"vrnode/pkg/network"
	"vrnode/pkg/ports"
)

type result struct {
	outcome bringup.Outcome
	spins   int
	err     error
}

// attempt is one spawn of an instance and its bring-up.
type attempt struct {
	emu     ports.Emulator
	started time.Time
	cancel  context.CancelFunc
	results chan result
	done    chan struct{}
}

type instance struct {
	spec     *models.InstanceSpec
	index    int
	firstNIC int
	primary  bool
	argv     []string
	link     *network.InternalLink

	mu    sync.Mutex
	state models.InstanceState

	run     *attempt
	readyIn time.Duration
}

func (i *instance) name() string {
	return i.spec.Name
}

func (i *instance) getState() models.InstanceState {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.state
}

// setState moves to next when the lifecycle allows it and reports whether
// it did.
func (i *instance) setState(next models.InstanceState) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.state.CanTransition(next) {
		return false
	}

	i.state = next

	return true
}
