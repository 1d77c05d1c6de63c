package qemu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandBuilder(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *commandBuilder) *commandBuilder
		want  []string
	}{
		{
			name:  "empty",
			build: func(b *commandBuilder) *commandBuilder { return b },
			want:  []string{},
		},
		{
			name:  "machine with options",
			build: func(b *commandBuilder) *commandBuilder { return b.setMachine("pc", "accel=kvm") },
			want:  []string{"-machine", "pc,accel=kvm"},
		},
		{
			name:  "cpu model only",
			build: func(b *commandBuilder) *commandBuilder { return b.setCPU("host") },
			want:  []string{"-cpu", "host"},
		},
		{
			name:  "smp without topology",
			build: func(b *commandBuilder) *commandBuilder { return b.setSMP(2, 0, 0, 0) },
			want:  []string{"-smp", "2"},
		},
		{
			name:  "smp with topology",
			build: func(b *commandBuilder) *commandBuilder { return b.setSMP(4, 1, 2, 2) },
			want:  []string{"-smp", "4,sockets=1,cores=2,threads=2"},
		},
		{
			name:  "serial server",
			build: func(b *commandBuilder) *commandBuilder { return b.setSerial("0.0.0.0", 5000) },
			want:  []string{"-serial", "tcp:0.0.0.0:5000,server=on,wait=off"},
		},
		{
			name:  "monitor server",
			build: func(b *commandBuilder) *commandBuilder { return b.setMonitor("127.0.0.1", 4000) },
			want:  []string{"-monitor", "tcp:127.0.0.1:4000,server=on,wait=off"},
		},
		{
			name: "netdev and device",
			build: func(b *commandBuilder) *commandBuilder {
				return b.addNetdev("socket", "p01", "listen=:10001").addDevice("e1000", "netdev=p01")
			},
			want: []string{"-netdev", "socket,id=p01,listen=:10001", "-device", "e1000,netdev=p01"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.build(newCommandBuilder()).build())
		})
	}
}
