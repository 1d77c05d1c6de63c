//go:build wireinject
// +build wireinject

package inject

import (
	"github.com/google/wire"
	"github.com/spf13/afero"

	"vrnode/internal/config"
	"vrnode/pkg/artifact"
	"vrnode/pkg/godisk"
	"vrnode/pkg/hypervisor/qemu"
	"vrnode/pkg/hypervisor/shared"
	"vrnode/pkg/network"
	"vrnode/pkg/ports"
)

func InitializePorts(cfg *config.Config, fs afero.Fs, hp ports.HealthPublisher) *ports.Collection {
	wire.Build(
		qemu.New,
		wire.Bind(new(ports.EmulatorService), new(*qemu.Service)),
		godisk.New,
		network.New,
		shared.NewExecRunner,
		qemuConfigFrom,
		networkConfigFrom,
		appPorts,
	)

	return nil
}

func InitializeBuilder(cfg *config.Config, pc *ports.Collection) *artifact.Builder {
	wire.Build(
		artifact.NewBuilder,
		wire.FieldsOf(new(*ports.Collection), "DiskService", "Runner", "FileSystem"),
		artifactConfigFrom,
	)

	return nil
}
