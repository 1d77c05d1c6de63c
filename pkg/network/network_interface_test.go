package network_test

import (
	"context"
	"io"
	"testing"

	g "github.com/onsi/gomega"

	"vrnode/pkg/network"
	"vrnode/pkg/ports"
)

type fakeNetwork struct {
	ifaces  map[string]ports.IfaceCreateInput
	bridges []string
	deleted []string
}

func (f *fakeNetwork) IfaceCreate(_ context.Context, in ports.IfaceCreateInput) (*ports.IfaceDetails, error) {
	f.ifaces[in.DeviceName] = in

	return &ports.IfaceDetails{DeviceName: in.DeviceName, MAC: in.MAC}, nil
}

func (f *fakeNetwork) IfaceDelete(_ context.Context, in ports.DeleteIfaceInput) error {
	delete(f.ifaces, in.DeviceName)
	f.deleted = append(f.deleted, in.DeviceName)

	return nil
}

func (f *fakeNetwork) IfaceExists(_ context.Context, name string) (bool, error) {
	_, ok := f.ifaces[name]

	return ok, nil
}

func (f *fakeNetwork) BridgeEnsure(_ context.Context, name string) error {
	f.bridges = append(f.bridges, name)

	return nil
}

func (f *fakeNetwork) OpenTAP(context.Context, string) (io.ReadWriteCloser, error) { return nil, nil }
func (f *fakeNetwork) OpenRaw(context.Context, string) (io.ReadWriteCloser, error) { return nil, nil }
func (f *fakeNetwork) ForwardNAT(context.Context, ports.NATInput) error { return nil }

func TestInternalLink(t *testing.T) {
	g.RegisterTestingT(t)

	svc := &fakeNetwork{ifaces: map[string]ports.IfaceCreateInput{
		"vcp-int": {DeviceName: "vcp-int"},
	}}

	link := network.NewInternalLink("int_cp", "vcp-int", "52:54:00:00:00:01", svc)

	g.Expect(link.Create(context.Background())).To(g.Succeed())
	g.Expect(svc.bridges).To(g.Equal([]string{"int_cp"}))
	g.Expect(svc.deleted).To(g.Equal([]string{"vcp-int"}))
	g.Expect(svc.ifaces["vcp-int"].BridgeName).To(g.Equal("int_cp"))
	g.Expect(svc.ifaces["vcp-int"].MAC).To(g.Equal("52:54:00:00:00:01"))

	g.Expect(link.Delete(context.Background())).To(g.Succeed())
	g.Expect(svc.ifaces).NotTo(g.HaveKey("vcp-int"))
}
