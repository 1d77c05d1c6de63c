package models

import "time"

// SMPTopology is the guest CPU layout.
type SMPTopology struct {
	Cores   int `yaml:"cores" toml:"cores"`
	Threads int `yaml:"threads" toml:"threads"`
	Sockets int `yaml:"sockets" toml:"sockets"`
}

// NICBusLayout spreads NICs over PCI bridges.
type NICBusLayout struct {
	// PerBus is the number of NICs placed on one bridge before opening the next.
	PerBus int `yaml:"per_bus" toml:"per_bus"`
	// MgmtBus is the bus of the management NIC; empty means the root bus.
	MgmtBus string `yaml:"mgmt_bus,omitempty" toml:"mgmt_bus,omitempty"`
}

// Prompts is the console vocabulary of a family. Entries are literal byte
// patterns unless prefixed with "re:".
type Prompts struct {
	Login    []string          `yaml:"login" toml:"login"`
	Password []string          `yaml:"password" toml:"password"`
	Ready    []string          `yaml:"ready" toml:"ready"`
	Error    []string          `yaml:"error,omitempty" toml:"error,omitempty"`
	Busy     []string          `yaml:"busy,omitempty" toml:"busy,omitempty"`
	Config   []string          `yaml:"config,omitempty" toml:"config,omitempty"`
	NewPass  []string          `yaml:"new_password,omitempty" toml:"new_password,omitempty"`
	Vendor   map[string]string `yaml:"vendor,omitempty" toml:"vendor,omitempty"`
}

// SidePrompt is an interstitial prompt with its canned answer.
type SidePrompt struct {
	Pattern string `yaml:"pattern" toml:"pattern"`
	Answer  string `yaml:"answer" toml:"answer"`
}

// PortForward maps a loopback port of the container to a device port.
type PortForward struct {
	Proto     string `yaml:"proto" toml:"proto"`
	HostPort  int    `yaml:"host_port" toml:"host_port"`
	GuestPort int    `yaml:"guest_port" toml:"guest_port"`
}

// ArtifactKind selects the generator of a preboot artifact.
type ArtifactKind string

const (
	ArtifactConfigISO ArtifactKind = "config-iso"
	ArtifactOverlay   ArtifactKind = "overlay"
	ArtifactRawDisk   ArtifactKind = "raw-disk"
	ArtifactTFTPFile  ArtifactKind = "tftp-file"
	ArtifactCloudInit ArtifactKind = "cloud-init"
)

// Attachment says how the emulator sees an artifact.
type Attachment string

const (
	AttachNone  Attachment = ""
	AttachCDROM Attachment = "cdrom"
	AttachDisk  Attachment = "disk"
	// AttachBoot replaces the boot disk with the artifact.
	AttachBoot Attachment = "boot"
)

// Artifact describes one file produced before the first spawn.
type Artifact struct {
	Kind ArtifactKind `yaml:"kind" toml:"kind"`
	// Path is absolute or relative to the instance state directory.
	Path   string     `yaml:"path" toml:"path"`
	Attach Attachment `yaml:"attach,omitempty" toml:"attach,omitempty"`
	// Label is the ISO volume label.
	Label string `yaml:"label,omitempty" toml:"label,omitempty"`
	// Files maps names inside the ISO (or the single TFTP file) to content.
	Files map[string]string `yaml:"files,omitempty" toml:"files,omitempty"`
	// Backing is the base image of an overlay.
	Backing string `yaml:"backing,omitempty" toml:"backing,omitempty"`
	// Size of a raw disk, e.g. "1G".
	Size string `yaml:"size,omitempty" toml:"size,omitempty"`
	// Mode restricts the artifact to install or run boots.
	Mode Mode `yaml:"mode,omitempty" toml:"mode,omitempty"`
}

// Applies reports whether the artifact is built for the given mode.
func (a Artifact) Applies(install bool) bool {
	return a.Mode.applies(install)
}

// Disk is an extra block device of an instance.
type Disk struct {
	Path      string `yaml:"path" toml:"path"`
	Interface string `yaml:"interface" toml:"interface"`
	Format    string `yaml:"format" toml:"format"`
}

// InstanceSpec is the emulator-level description of one VM of a device.
type InstanceSpec struct {
	Name string `yaml:"name" toml:"name"`
	Role Role   `yaml:"role" toml:"role"`
	// ImageMatch is a regular expression over file names in the image directory.
	ImageMatch string `yaml:"image_match" toml:"image_match"`
	// Image is the resolved image path.
	Image       string        `yaml:"image,omitempty" toml:"image,omitempty"`
	MachineType string        `yaml:"machine" toml:"machine"`
	CPUModel    string        `yaml:"cpu,omitempty" toml:"cpu,omitempty"`
	RAMMB       int           `yaml:"ram_mb" toml:"ram_mb"`
	VCPUs       int           `yaml:"vcpus" toml:"vcpus"`
	SMP         SMPTopology   `yaml:"smp" toml:"smp"`
	NICs        int           `yaml:"nics" toml:"nics"`
	NICModel    string        `yaml:"nic_model" toml:"nic_model"`
	BusLayout   NICBusLayout  `yaml:"nic_bus_layout" toml:"nic_bus_layout"`
	DiskIface   string        `yaml:"disk_interface" toml:"disk_interface"`
	Disks       []Disk        `yaml:"disks,omitempty" toml:"disks,omitempty"`
	Artifacts   []Artifact    `yaml:"artifacts,omitempty" toml:"artifacts,omitempty"`
	ExtraArgs   []string      `yaml:"extra_args,omitempty" toml:"extra_args,omitempty"`
	Mgmt        bool          `yaml:"mgmt" toml:"mgmt"`
	Internal    bool          `yaml:"internal" toml:"internal"`
	Traffic     bool          `yaml:"traffic" toml:"traffic"`
	BootDelay   time.Duration `yaml:"boot_delay,omitempty" toml:"boot_delay,omitempty"`
}

// Variant overrides sizing for a sub-model of a family.
type Variant struct {
	RAMMB int               `yaml:"ram_mb,omitempty" toml:"ram_mb,omitempty"`
	VCPUs int               `yaml:"vcpus,omitempty" toml:"vcpus,omitempty"`
	NICs  int               `yaml:"nics,omitempty" toml:"nics,omitempty"`
	Vars  map[string]string `yaml:"vars,omitempty" toml:"vars,omitempty"`
}

// Profile is the immutable per-family description the engine consumes.
type Profile struct {
	Family      string `yaml:"family" toml:"family"`
	Description string `yaml:"description" toml:"description"`
	// Version is extracted from the image file name when the match has a
	// named "version" group.
	Version string `yaml:"version,omitempty" toml:"version,omitempty"`

	Hostname        string `yaml:"hostname" toml:"hostname"`
	Username        string `yaml:"username" toml:"username"`
	Password        string `yaml:"password" toml:"password"`
	DefaultUsername string `yaml:"default_username" toml:"default_username"`
	DefaultPassword string `yaml:"default_password" toml:"default_password"`
	ConnectionMode  string `yaml:"connection_mode" toml:"connection_mode"`
	Install         bool   `yaml:"install" toml:"install"`
	Variant         string `yaml:"variant,omitempty" toml:"variant,omitempty"`

	MgmtSubnet  string        `yaml:"mgmt_subnet" toml:"mgmt_subnet"`
	MgmtAddress string        `yaml:"mgmt_address" toml:"mgmt_address"`
	Forwards    []PortForward `yaml:"forwards" toml:"forwards"`

	Prompts        Prompts       `yaml:"prompts" toml:"prompts"`
	SidePrompts    []SidePrompt  `yaml:"side_prompts,omitempty" toml:"side_prompts,omitempty"`
	MaxSidePrompts int           `yaml:"max_side_prompts" toml:"max_side_prompts"`
	MaxSpins       int           `yaml:"max_spins" toml:"max_spins"`
	PollTimeout    time.Duration `yaml:"poll_timeout" toml:"poll_timeout"`
	CharDelay      time.Duration `yaml:"char_delay" toml:"char_delay"`
	StopGrace      time.Duration `yaml:"stop_grace" toml:"stop_grace"`

	BringUp           []Step `yaml:"bringup_script" toml:"bringup_script"`
	PostReady         []Step `yaml:"post_ready_hooks,omitempty" toml:"post_ready_hooks,omitempty"`
	StartupConfigPath string `yaml:"startup_config" toml:"startup_config"`
	// ConfigEnter and ConfigExit wrap replayed startup configuration.
	ConfigEnter []string `yaml:"config_enter,omitempty" toml:"config_enter,omitempty"`
	ConfigExit  []string `yaml:"config_exit,omitempty" toml:"config_exit,omitempty"`

	Instances      []InstanceSpec     `yaml:"instances" toml:"instances"`
	InternalBridge string             `yaml:"internal_bridge,omitempty" toml:"internal_bridge,omitempty"`
	Variants       map[string]Variant `yaml:"variants,omitempty" toml:"variants,omitempty"`
	Tunables       map[string]string  `yaml:"tunables,omitempty" toml:"tunables,omitempty"`
	Licenses       []string           `yaml:"licenses,omitempty" toml:"licenses,omitempty"`

	// Template is the profile before overrides; Overrides is everything
	// applied on top of it so far.
	Template  *Profile `yaml:"-" toml:"-"`
	Overrides Options  `yaml:"-" toml:"-"`
}

// Primary returns the instance that carries the console bring-up.
func (p *Profile) Primary() *InstanceSpec {
	for i := range p.Instances {
		if p.Instances[i].Role == RoleControl {
			return &p.Instances[i]
		}
	}

	if len(p.Instances) == 0 {
		return nil
	}

	return &p.Instances[0]
}

// TrafficNICs is the number of front-panel NICs exposed as wire endpoints.
func (p *Profile) TrafficNICs() int {
	n := 0

	for _, inst := range p.Instances {
		if inst.Traffic {
			n += inst.NICs
		}
	}

	return n
}

// Options are user overrides applied on top of a profile. Nil fields are unset.
type Options struct {
	Hostname       *string           `toml:"hostname,omitempty"`
	Username       *string           `toml:"username,omitempty"`
	Password       *string           `toml:"password,omitempty"`
	ConnectionMode *string           `toml:"connection_mode,omitempty"`
	Variant        *string           `toml:"variant,omitempty"`
	NICs           *int              `toml:"nics,omitempty"`
	RAMMB          *int              `toml:"ram_mb,omitempty"`
	VCPUs          *int              `toml:"vcpus,omitempty"`
	Install        *bool             `toml:"install,omitempty"`
	StartupConfig  *string           `toml:"startup_config,omitempty"`
	Licenses       []string          `toml:"licenses,omitempty"`
	Tunables       map[string]string `toml:"tunables,omitempty"`
}
