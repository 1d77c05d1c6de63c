package defaults

import "time"

const (
	// StateRootDir is the default directory to use for state information.
	StateRootDir = "/run/vrnode"

	// ImageDir is the directory scanned for the vendor image.
	ImageDir = "/"

	// HealthFile is the health publication target.
	HealthFile = "/health"

	// StartupConfigFile is replayed into the device once it is ready.
	StartupConfigFile = "/config/startup-config.cfg"

	// TFTPRoot is served to the device by the emulator's user-mode TFTP.
	TFTPRoot = "/tftpboot"

	// QemuBin is the emulator binary.
	QemuBin = "qemu-system-x86_64"

	// QemuImgBin builds overlay and raw disks.
	QemuImgBin = "qemu-img"

	// KVMDevice is probed to decide on hardware acceleration.
	KVMDevice = "/dev/kvm"

	// MgmtSubnet is the user-mode network the management NIC lives on.
	MgmtSubnet = "10.0.0.0/24"

	// WirePortBase is added to the 1-based NIC index to get its TCP port.
	WirePortBase = 10000

	// ConsolePortBase is the first serial console port; instance i uses base+i.
	ConsolePortBase = 5000

	// MonitorPortBase is the first monitor port; instance i uses base+i.
	MonitorPortBase = 4000

	// MaxSpins bounds the consecutive zero-progress console polls.
	MaxSpins = 300

	// MaxSidePrompts bounds the side-prompt cycles of one write-after.
	MaxSidePrompts = 4

	// StopGrace is how long an emulator has to exit after a graceful request.
	StopGrace = 10 * time.Second

	// ConsoleAttachGrace bounds the connect retries to the console and monitor.
	ConsoleAttachGrace = 30 * time.Second

	// PollTimeout is the default window of one console expect.
	PollTimeout = time.Second

	// CharDelay is the inter-character delay of paced sends.
	CharDelay = 50 * time.Millisecond

	// ControllerTick is the period of the controller loop.
	ControllerTick = time.Second

	// ReconnectMin and ReconnectMax bound the fabric reconnect back-off.
	ReconnectMin = 100 * time.Millisecond
	ReconnectMax = 5 * time.Second

	// Hostname is used when neither the flag nor the family provide one.
	Hostname = "router"

	// MetricsEndpoint is empty to disable the metrics server.
	MetricsEndpoint = ""

	// StatusEndpoint is empty to disable the gRPC status server.
	StatusEndpoint = ""

	// DataDirPerm is the permissions to use for data folders.
	DataDirPerm = 0o755

	// DataFilePerm is the permissions to use for data files.
	DataFilePerm = 0o644
)
