// Package cloudinit renders NoCloud seed documents for devices that read
// their day-0 parameters from a cidata volume.
package cloudinit

import (
	"fmt"
	"net/netip"
	"sort"

	"gopkg.in/yaml.v2"

	"vrnode/pkg/cloudinit/network"
	"vrnode/pkg/models"
)

const (
	// VolumeName is the label NoCloud looks for.
	VolumeName = "cidata"

	UserDataFile      = "user-data"
	MetaDataFile      = "meta-data"
	NetworkConfigFile = "network-config"

	cloudConfigHeader = "#cloud-config\n"
	netVersion        = 2
	mgmtDevice        = "eth0"
)

// UserData is the subset of cloud-config the supported images consume.
type UserData struct {
	Hostname   string              `yaml:"hostname,omitempty"`
	Users      []User              `yaml:"users,omitempty"`
	ChPasswd   *ChPasswd           `yaml:"chpasswd,omitempty"`
	SSHPwAuth  *bool               `yaml:"ssh_pwauth,omitempty"`
	VInitParam []map[string]string `yaml:"vinitparam,omitempty"`
}

type User struct {
	Name       string `yaml:"name"`
	PlainPass  string `yaml:"plain_text_passwd,omitempty"`
	LockPasswd *bool  `yaml:"lock_passwd,omitempty"`
	Sudo       string `yaml:"sudo,omitempty"`
}

type ChPasswd struct {
	Expire *bool `yaml:"expire"`
}

// Metadata is the meta-data document.
type Metadata struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// Bool will return a pointer value of the given parameter.
func Bool(b bool) *bool {
	return &b
}

// String will return a pointer value of the given parameter.
func String(str string) *string {
	return &str
}

// Seed renders the seed files for the profile, keyed by file name.
func Seed(p *models.Profile, instanceID string) (map[string][]byte, error) {
	user := UserData{
		Hostname: p.Hostname,
		Users: []User{{
			Name:       p.Username,
			PlainPass:  p.Password,
			LockPasswd: Bool(false),
			Sudo:       "ALL=(ALL) NOPASSWD:ALL",
		}},
		ChPasswd:   &ChPasswd{Expire: Bool(false)},
		SSHPwAuth:  Bool(true),
		VInitParam: vinitParams(p.Tunables),
	}

	ud, err := yaml.Marshal(&user)
	if err != nil {
		return nil, fmt.Errorf("marshalling user data: %w", err)
	}

	md, err := yaml.Marshal(&Metadata{InstanceID: instanceID, LocalHostname: p.Hostname})
	if err != nil {
		return nil, fmt.Errorf("marshalling meta data: %w", err)
	}

	nd, err := GenerateNetworkConfig(p)
	if err != nil {
		return nil, err
	}

	return map[string][]byte{
		UserDataFile:      append([]byte(cloudConfigHeader), ud...),
		MetaDataFile:      md,
		NetworkConfigFile: nd,
	}, nil
}

// GenerateNetworkConfig gives the management interface its static address
// on the user-mode network.
func GenerateNetworkConfig(p *models.Profile) ([]byte, error) {
	prefix, err := netip.ParsePrefix(p.MgmtSubnet)
	if err != nil {
		return nil, fmt.Errorf("parsing management subnet %s: %w", p.MgmtSubnet, err)
	}

	gateway := prefix.Masked().Addr().Next().Next()

	netConf := &network.Network{
		Version: netVersion,
		Ethernet: map[string]network.Ethernet{
			mgmtDevice: {
				Match:       network.Match{Name: mgmtDevice},
				Addresses:   []string{fmt.Sprintf("%s/%d", p.MgmtAddress, prefix.Bits())},
				GatewayIPv4: gateway.String(),
				DHCP4:       Bool(false),
				DHCP6:       Bool(false),
				Nameservers: network.Nameservers{
					// slirp's built-in DNS relay
					Addresses: []string{prefix.Masked().Addr().Next().Next().Next().String()},
				},
			},
		},
	}

	nd, err := yaml.Marshal(netConf)
	if err != nil {
		return nil, fmt.Errorf("marshalling network data: %w", err)
	}

	return nd, nil
}

// vinitParams lists tunables as single-key maps in key order.
func vinitParams(tunables map[string]string) []map[string]string {
	if len(tunables) == 0 {
		return nil
	}

	keys := make([]string, 0, len(tunables))
	for k := range tunables {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]string{k: tunables[k]})
	}

	return out
}
