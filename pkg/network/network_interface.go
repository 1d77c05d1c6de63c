package network

import (
	"context"
	"fmt"

	"vrnode/pkg/ports"
)

// InternalLink joins an instance to the bridge shared by the instances of a
// multi-VM device.
type InternalLink struct {
	bridge string
	tap    string
	mac    string
	svc    ports.NetworkService
}

func NewInternalLink(bridge, tap, mac string, svc ports.NetworkService) *InternalLink {
	return &InternalLink{
		bridge: bridge,
		tap:    tap,
		mac:    mac,
		svc:    svc,
	}
}

// Tap is the host-side device name.
func (s *InternalLink) Tap() string {
	return s.tap
}

// Create ensures the bridge and recreates the TAP on it.
func (s *InternalLink) Create(ctx context.Context) error {
	if err := s.svc.BridgeEnsure(ctx, s.bridge); err != nil {
		return fmt.Errorf("ensuring bridge %s: %w", s.bridge, err)
	}

	exists, err := s.svc.IfaceExists(ctx, s.tap)
	if err != nil {
		return fmt.Errorf("checking if networking interface exists: %w", err)
	}

	// a tap left by a previous spawn may still hold stale state
	if exists {
		if err := s.svc.IfaceDelete(ctx, ports.DeleteIfaceInput{DeviceName: s.tap}); err != nil {
			return fmt.Errorf("removing stale interface %s: %w", s.tap, err)
		}
	}

	input := ports.IfaceCreateInput{
		DeviceName: s.tap,
		BridgeName: s.bridge,
		MAC:        s.mac,
	}

	if _, err := s.svc.IfaceCreate(ctx, input); err != nil {
		return fmt.Errorf("creating interface %s: %w", s.tap, err)
	}

	return nil
}

// Delete removes the TAP; the bridge stays.
func (s *InternalLink) Delete(ctx context.Context) error {
	return s.svc.IfaceDelete(ctx, ports.DeleteIfaceInput{DeviceName: s.tap})
}
