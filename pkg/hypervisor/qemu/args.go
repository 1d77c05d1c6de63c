package qemu

import (
	"fmt"

	"github.com/google/uuid"

	"vrnode/pkg/artifact"
	"vrnode/pkg/defaults"
	"vrnode/pkg/models"
)

const (
	mgmtNetdev     = "mgmt"
	internalNetdev = "int"
	// slots on a pci-bridge start at 1
	firstBridgeSlot = 1
)

// ArgsInput is everything that shapes the command line of one instance.
type ArgsInput struct {
	Profile  *models.Profile
	Instance *models.InstanceSpec
	// Index is the position of the instance in the profile; it offsets the
	// console and monitor ports.
	Index int
	// FirstNIC is the wire number of the first traffic NIC of the instance.
	FirstNIC  int
	Artifacts []artifact.Built
	KVM       bool
	// InternalTap is the host TAP joining the internal bridge.
	InternalTap string
}

// ConsolePort is the serial console TCP port of the instance at index.
func ConsolePort(index int) int {
	return defaults.ConsolePortBase + index
}

// MonitorPort is the monitor TCP port of the instance at index.
func MonitorPort(index int) int {
	return defaults.MonitorPortBase + index
}

// BuildArgs composes the emulator arguments for an instance, without the
// binary name.
func BuildArgs(in ArgsInput) ([]string, error) {
	p, inst := in.Profile, in.Instance

	if inst.RAMMB <= 0 || inst.VCPUs <= 0 {
		return nil, fmt.Errorf("instance %s: ram and vcpus must be positive", inst.Name)
	}

	machineOpts := []string{}
	if in.KVM {
		machineOpts = append(machineOpts, "accel=kvm")
	}

	b := newCommandBuilder().
		setName(fmt.Sprintf("%s-%s", p.Hostname, inst.Name)).
		setMachine(machineType(inst), machineOpts...).
		setCPU(cpuModel(inst, in.KVM)).
		setMemory(inst.RAMMB).
		setSMP(inst.VCPUs, inst.SMP.Sockets, inst.SMP.Cores, inst.SMP.Threads).
		setNoGraphic().
		setSerial("0.0.0.0", ConsolePort(in.Index)).
		setMonitor("127.0.0.1", MonitorPort(in.Index))

	if err := addDisks(b, in); err != nil {
		return nil, err
	}

	model := inst.NICModel
	if model == "" {
		model = "virtio-net-pci"
	}

	if inst.Mgmt {
		addMgmt(b, p, inst, model)
	}

	if inst.Internal {
		if in.InternalTap == "" {
			return nil, fmt.Errorf("instance %s: internal NIC without a tap", inst.Name)
		}

		b.addNetdev("tap", internalNetdev, "ifname="+in.InternalTap, "script=no", "downscript=no").
			addDevice(model, "netdev="+internalNetdev, "mac="+MAC(p.Hostname, inst.Name, -1))
	}

	if inst.Traffic {
		addTraffic(b, p, inst, model, in.FirstNIC)
	}

	b.addRaw(inst.ExtraArgs...)

	return b.build(), nil
}

func addDisks(b *commandBuilder, in ArgsInput) error {
	inst := in.Instance

	iface := inst.DiskIface
	if iface == "" {
		iface = "virtio"
	}

	boot, bootFormat := inst.Image, artifact.DiskFormat(inst.Image)
	cdroms := 0

	for _, a := range in.Artifacts {
		if a.Attach == models.AttachBoot {
			boot, bootFormat = a.Path, a.Format
		}
	}

	if boot == "" {
		return fmt.Errorf("instance %s: no boot image", inst.Name)
	}

	b.addDrive("if="+iface, "file="+boot, "format="+bootFormat, "index=0", "media=disk")

	for i, d := range inst.Disks {
		dIface := d.Interface
		if dIface == "" {
			dIface = iface
		}

		format := d.Format
		if format == "" {
			format = artifact.DiskFormat(d.Path)
		}

		b.addDrive("if="+dIface, "file="+d.Path, "format="+format, fmt.Sprintf("index=%d", i+1), "media=disk")
	}

	for _, a := range in.Artifacts {
		switch a.Attach {
		case models.AttachCDROM:
			id := fmt.Sprintf("cd%d", cdroms)
			cdroms++

			b.addDrive("if=none", "id="+id, "file="+a.Path, "format=raw", "media=cdrom", "readonly=on").
				addDevice("ide-cd", "drive="+id)
		case models.AttachDisk:
			b.addDrive("if="+iface, "file="+a.Path, "format="+a.Format, "media=disk")
		}
	}

	return nil
}

func addMgmt(b *commandBuilder, p *models.Profile, inst *models.InstanceSpec, model string) {
	opts := []string{
		"net=" + p.MgmtSubnet,
		"tftp=" + defaults.TFTPRoot,
	}

	for _, fwd := range p.Forwards {
		opts = append(opts, fmt.Sprintf("hostfwd=%s:127.0.0.1:%d-%s:%d", fwd.Proto, fwd.HostPort, p.MgmtAddress, fwd.GuestPort))
	}

	devOpts := []string{"netdev=" + mgmtNetdev, "mac=" + MAC(p.Hostname, inst.Name, 0)}
	if inst.BusLayout.MgmtBus != "" {
		devOpts = append(devOpts, "bus="+inst.BusLayout.MgmtBus)
	}

	b.addNetdev("user", mgmtNetdev, opts...).
		addDevice(model, devOpts...)
}

// addTraffic opens one listening socket back-end per front-panel NIC and
// spreads the NICs over pci bridges.
func addTraffic(b *commandBuilder, p *models.Profile, inst *models.InstanceSpec, model string, first int) {
	if inst.NICs <= 0 {
		return
	}

	perBus := inst.BusLayout.PerBus
	if perBus <= 0 {
		perBus = 26
	}

	buses := (inst.NICs + perBus - 1) / perBus
	for bus := 1; bus <= buses; bus++ {
		b.addDevice("pci-bridge", fmt.Sprintf("chassis_nr=%d", bus), fmt.Sprintf("id=pci.%d", bus))
	}

	if first <= 0 {
		first = 1
	}

	for i := 0; i < inst.NICs; i++ {
		nic := first + i
		id := fmt.Sprintf("p%02d", nic)
		bus := i/perBus + 1
		slot := i%perBus + firstBridgeSlot

		b.addNetdev("socket", id, fmt.Sprintf("listen=:%d", defaults.WirePortBase+nic)).
			addDevice(model,
				"netdev="+id,
				"mac="+MAC(p.Hostname, inst.Name, nic),
				fmt.Sprintf("bus=pci.%d", bus),
				fmt.Sprintf("addr=0x%x", slot),
			)
	}
}

// MAC derives a stable locally administered address for a NIC.
func MAC(hostname, instance string, nic int) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%s/%d", hostname, instance, nic)))

	// 52:54:00 is the emulator's own prefix
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", id[0], id[1], id[2])
}

func machineType(inst *models.InstanceSpec) string {
	if inst.MachineType == "" {
		return "pc"
	}

	return inst.MachineType
}

// cpuModel falls back to the emulated max model when host passthrough is
// unavailable.
func cpuModel(inst *models.InstanceSpec, kvm bool) string {
	switch {
	case inst.CPUModel == "":
		if kvm {
			return "host"
		}

		return "max"
	case inst.CPUModel == "host" && !kvm:
		return "max"
	default:
		return inst.CPUModel
	}
}
