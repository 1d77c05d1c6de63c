package network

import (
	"fmt"
	"strings"
)

// maxIfaceName is IFNAMSIZ without the trailing NUL.
const maxIfaceName = 15

// TapName builds a host interface name for an instance NIC, trimmed to the
// kernel limit.
func TapName(instance, suffix string) (string, error) {
	if instance == "" || suffix == "" {
		return "", fmt.Errorf("tap name needs an instance and a suffix")
	}

	name := fmt.Sprintf("%s-%s", strings.ToLower(instance), suffix)
	if len(name) <= maxIfaceName {
		return name, nil
	}

	keep := maxIfaceName - len(suffix) - 1
	if keep <= 0 {
		return "", fmt.Errorf("suffix %q too long for an interface name", suffix)
	}

	return fmt.Sprintf("%s-%s", strings.ToLower(instance)[:keep], suffix), nil
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
