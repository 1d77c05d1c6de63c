package qemu

import (
	"fmt"
	"strings"
)

// commandBuilder accumulates emulator arguments in order.
//
//	args := newCommandBuilder().
//		setMachine("pc", "accel=kvm").
//		setCPU("host").
//		setMemory(4096).
//		build()
type commandBuilder struct {
	args []string
}

func newCommandBuilder() *commandBuilder {
	return &commandBuilder{
		args: make([]string, 0, 64),
	}
}

func (b *commandBuilder) setName(name string) *commandBuilder {
	b.args = append(b.args, "-name", name)
	return b
}

// setMachine sets the machine type and options (-machine option).
func (b *commandBuilder) setMachine(machineType string, options ...string) *commandBuilder {
	b.args = append(b.args, "-machine", withOptions(machineType, options))
	return b
}

// setCPU sets the CPU model and features (-cpu option).
func (b *commandBuilder) setCPU(model string, features ...string) *commandBuilder {
	b.args = append(b.args, "-cpu", withOptions(model, features))
	return b
}

// setSMP sets the CPU topology. Zero sockets, cores or threads are left to
// the emulator.
func (b *commandBuilder) setSMP(cpus, sockets, cores, threads int) *commandBuilder {
	opts := []string{}
	if sockets > 0 {
		opts = append(opts, fmt.Sprintf("sockets=%d", sockets))
	}

	if cores > 0 {
		opts = append(opts, fmt.Sprintf("cores=%d", cores))
	}

	if threads > 0 {
		opts = append(opts, fmt.Sprintf("threads=%d", threads))
	}

	b.args = append(b.args, "-smp", withOptions(fmt.Sprintf("%d", cpus), opts))
	return b
}

// setMemory sets memory in megabytes (-m option).
func (b *commandBuilder) setMemory(memoryMB int) *commandBuilder {
	b.args = append(b.args, "-m", fmt.Sprintf("%d", memoryMB))
	return b
}

func (b *commandBuilder) setNoGraphic() *commandBuilder {
	b.args = append(b.args, "-display", "none")
	return b
}

// setSerial exposes the first serial port as a raw TCP server.
func (b *commandBuilder) setSerial(addr string, port int) *commandBuilder {
	b.args = append(b.args, "-serial", fmt.Sprintf("tcp:%s:%d,server=on,wait=off", addr, port))
	return b
}

// setMonitor exposes the human monitor as a raw TCP server.
func (b *commandBuilder) setMonitor(addr string, port int) *commandBuilder {
	b.args = append(b.args, "-monitor", fmt.Sprintf("tcp:%s:%d,server=on,wait=off", addr, port))
	return b
}

// addDrive adds a -drive option from key=value pairs in order.
func (b *commandBuilder) addDrive(opts ...string) *commandBuilder {
	b.args = append(b.args, "-drive", strings.Join(opts, ","))
	return b
}

// addDevice adds a device (-device option).
func (b *commandBuilder) addDevice(device string, opts ...string) *commandBuilder {
	b.args = append(b.args, "-device", withOptions(device, opts))
	return b
}

// addNetdev adds a network back-end (-netdev option).
func (b *commandBuilder) addNetdev(kind, id string, opts ...string) *commandBuilder {
	b.args = append(b.args, "-netdev", withOptions(fmt.Sprintf("%s,id=%s", kind, id), opts))
	return b
}

func (b *commandBuilder) addRaw(args ...string) *commandBuilder {
	b.args = append(b.args, args...)
	return b
}

func (b *commandBuilder) build() []string {
	return b.args
}

func withOptions(value string, options []string) string {
	if len(options) == 0 {
		return value
	}

	return fmt.Sprintf("%s,%s", value, strings.Join(options, ","))
}
