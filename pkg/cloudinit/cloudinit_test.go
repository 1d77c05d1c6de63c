package cloudinit_test

import (
	"strings"
	"testing"

	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v2"

	"vrnode/pkg/cloudinit"
	"vrnode/pkg/cloudinit/network"
	"vrnode/pkg/models"
)

func testProfile() *models.Profile {
	return &models.Profile{
		Family:      "vedge",
		Hostname:    "edge1",
		Username:    "admin",
		Password:    "secret",
		MgmtSubnet:  "10.0.0.0/24",
		MgmtAddress: "10.0.0.15",
		Tunables: map[string]string{
			"vbond":             "192.0.2.1",
			"organization-name": "acme",
		},
	}
}

func TestSeed(t *testing.T) {
	g := NewWithT(t)

	files, err := cloudinit.Seed(testProfile(), "router-1")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(files).To(HaveKey(cloudinit.UserDataFile))
	g.Expect(files).To(HaveKey(cloudinit.MetaDataFile))
	g.Expect(files).To(HaveKey(cloudinit.NetworkConfigFile))

	ud := string(files[cloudinit.UserDataFile])
	g.Expect(strings.HasPrefix(ud, "#cloud-config\n")).To(BeTrue())

	parsed := cloudinit.UserData{}
	g.Expect(yaml.Unmarshal(files[cloudinit.UserDataFile], &parsed)).To(Succeed())
	g.Expect(parsed.Hostname).To(Equal("edge1"))
	g.Expect(parsed.Users).To(HaveLen(1))
	g.Expect(parsed.Users[0].Name).To(Equal("admin"))
	g.Expect(parsed.VInitParam).To(Equal([]map[string]string{
		{"organization-name": "acme"},
		{"vbond": "192.0.2.1"},
	}))

	md := cloudinit.Metadata{}
	g.Expect(yaml.Unmarshal(files[cloudinit.MetaDataFile], &md)).To(Succeed())
	g.Expect(md.InstanceID).To(Equal("router-1"))
	g.Expect(md.LocalHostname).To(Equal("edge1"))
}

func TestSeedIsStable(t *testing.T) {
	g := NewWithT(t)

	a, err := cloudinit.Seed(testProfile(), "id")
	g.Expect(err).NotTo(HaveOccurred())

	b, err := cloudinit.Seed(testProfile(), "id")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a).To(Equal(b))
}

func TestGenerateNetworkConfig(t *testing.T) {
	g := NewWithT(t)

	nd, err := cloudinit.GenerateNetworkConfig(testProfile())
	g.Expect(err).NotTo(HaveOccurred())

	parsed := network.Network{}
	g.Expect(yaml.Unmarshal(nd, &parsed)).To(Succeed())
	g.Expect(parsed.Version).To(Equal(2))

	eth := parsed.Ethernet["eth0"]
	g.Expect(eth.Addresses).To(ConsistOf("10.0.0.15/24"))
	g.Expect(eth.GatewayIPv4).To(Equal("10.0.0.2"))
	g.Expect(eth.Nameservers.Addresses).To(ConsistOf("10.0.0.3"))
	g.Expect(*eth.DHCP4).To(BeFalse())
}

func TestGenerateNetworkConfigBadSubnet(t *testing.T) {
	g := NewWithT(t)

	p := testProfile()
	p.MgmtSubnet = "nope"

	_, err := cloudinit.GenerateNetworkConfig(p)
	g.Expect(err).To(HaveOccurred())
}
