package ports

import (
	"context"
	"io"
	"net"
	"time"

	"vrnode/pkg/models"
)

// CommandRunner runs an external tool to completion and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DiskService builds disk media for the emulator.
type DiskService interface {
	// Create will create a new disk image holding the given files.
	Create(ctx context.Context, input DiskCreateInput) error
}

// DiskType is the filesystem written into a disk image.
type DiskType int

const (
	// DiskTypeISO9660 is a CD-ROM image with Rock Ridge extensions.
	DiskTypeISO9660 DiskType = iota
	// DiskTypeFat32 is a FAT32 image.
	DiskTypeFat32
)

// DiskCreateInput are the input options for creating a disk.
type DiskCreateInput struct {
	// Path is the filesystem path of where to create the disk.
	Path string
	// Size is how big the disk should be. It uses human readable formats
	// such as 8Mb, 10Kb.
	Size string
	// VolumeName is the name to give to the volume.
	VolumeName string
	// Type is the type of disk image to create.
	Type DiskType
	// Files is a list of files to create in the disk.
	Files []DiskFile
	// Overwrite replaces an existing image at Path.
	Overwrite bool
}

// DiskFile represents a file to create in a disk.
type DiskFile struct {
	// Path is the path in the disk image for the file.
	Path string
	// Content is the file content.
	Content []byte
}

// NetworkService is a port for a service that interacts with the network
// stack on the host machine.
type NetworkService interface {
	// IfaceCreate will create a TAP interface, optionally enslaved to a bridge.
	IfaceCreate(ctx context.Context, input IfaceCreateInput) (*IfaceDetails, error)
	// IfaceDelete is used to delete a network interface.
	IfaceDelete(ctx context.Context, input DeleteIfaceInput) error
	// IfaceExists will check if an interface with the given name exists.
	IfaceExists(ctx context.Context, name string) (bool, error)
	// BridgeEnsure creates the bridge if needed and brings it up.
	BridgeEnsure(ctx context.Context, name string) error
	// OpenTAP returns a frame-oriented handle on an existing TAP device.
	OpenTAP(ctx context.Context, name string) (io.ReadWriteCloser, error)
	// OpenRaw returns a raw packet socket bound to a host interface.
	OpenRaw(ctx context.Context, name string) (io.ReadWriteCloser, error)
	// ForwardNAT redirects a container port to a loopback port.
	ForwardNAT(ctx context.Context, input NATInput) error
}

type IfaceCreateInput struct {
	// DeviceName is the name of the network interface to create on the host.
	DeviceName string
	// BridgeName is the bridge to attach the TAP to; empty leaves it unattached.
	BridgeName string
	// MAC is an optional hardware address.
	MAC string
}

type IfaceDetails struct {
	// DeviceName is the name of the network interface created on the host.
	DeviceName string
	// MAC is the MAC address of the created interface.
	MAC string
	// Index is the network interface index on the host.
	Index int
}

type DeleteIfaceInput struct {
	// DeviceName is the name of the network interface to delete from the host.
	DeviceName string
}

// NATInput is one management port redirect.
type NATInput struct {
	Proto      string
	ListenPort int
	TargetPort int
}

// EmulatorService owns emulator child processes.
type EmulatorService interface {
	Spawn(ctx context.Context, name string, argv []string) (Emulator, error)
	AttachConsole(ctx context.Context, port int) (net.Conn, error)
	AttachMonitor(ctx context.Context, port int) (net.Conn, error)
	// OpenTranscript opens the append-only console log of an instance.
	OpenTranscript(name string) (io.WriteCloser, error)
}

// Emulator is a running child process.
type Emulator interface {
	Pid() int
	IsAlive() bool
	// Terminate asks for a graceful exit and kills after grace. It returns
	// once the process has exited.
	Terminate(ctx context.Context, grace time.Duration) error
}

// HealthPublisher publishes the process-wide health record.
type HealthPublisher interface {
	Publish(rec models.HealthRecord) error
}
