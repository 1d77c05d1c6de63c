package network

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const tunDevice = "/dev/net/tun"

// openTAP attaches to an existing TAP device with the TUNSETIFF ioctl. Each
// read returns one ethernet frame.
func openTAP(name string) (*os.File, error) {
	tunFile, err := os.OpenFile(tunDevice, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", tunDevice, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		_ = tunFile.Close()

		return nil, fmt.Errorf("tap name %s: %w", name, err)
	}

	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)

	if err := unix.IoctlIfreq(int(tunFile.Fd()), unix.TUNSETIFF, ifr); err != nil {
		_ = tunFile.Close()

		return nil, fmt.Errorf("TUNSETIFF ioctl on %s failed: %w", name, err)
	}

	return tunFile, nil
}

// openRaw opens a packet socket receiving every frame of the interface.
func openRaw(index int) (*os.File, error) {
	proto := htons(unix.ETH_P_ALL)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("creating packet socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: index}); err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("binding packet socket to ifindex %d: %w", index, err)
	}

	// non-blocking so that Close interrupts pending reads
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("setting packet socket non-blocking: %w", err)
	}

	return os.NewFile(uintptr(fd), fmt.Sprintf("packet:%d", index)), nil
}
