package profile

import (
	"time"

	"vrnode/pkg/models"
)

// mgmtForwards is applied to every family: loopback port on the container,
// service port on the device.
var mgmtForwards = []models.PortForward{
	{Proto: "tcp", HostPort: 2022, GuestPort: 22},
	{Proto: "tcp", HostPort: 2830, GuestPort: 830},
	{Proto: "tcp", HostPort: 2443, GuestPort: 443},
	{Proto: "tcp", HostPort: 17400, GuestPort: 57400},
	{Proto: "udp", HostPort: 2161, GuestPort: 161},
}

func forwards(extra ...models.PortForward) []models.PortForward {
	return append(append([]models.PortForward(nil), mgmtForwards...), extra...)
}

// overlay puts a copy-on-write disk on top of the discovered image for
// normal boots; install boots write the image in place.
func overlay() models.Artifact {
	return models.Artifact{
		Kind:    models.ArtifactOverlay,
		Path:    "disk.qcow2",
		Backing: "{{.Image}}",
		Attach:  models.AttachBoot,
		Mode:    models.ModeRun,
	}
}

func builtinFamilies() []*models.Profile {
	return []*models.Profile{
		csr(),
		c8000v(),
		xrv9k(),
		veos(),
		vsrx(),
		vmx(),
		sros(),
		vedge(),
	}
}

const iosDay0 = `hostname {{.Hostname}}
username {{.Username}} privilege 15 secret {{.Password}}
ip domain name lab
interface GigabitEthernet1
 ip address {{.MgmtAddress}} {{.MgmtNetmask}}
 no shutdown
ip route 0.0.0.0 0.0.0.0 {{.MgmtGateway}}
line vty 0 4
 login local
 transport input all
`

func iosPrompts() models.Prompts {
	return models.Prompts{
		Login:    []string{"Username:"},
		Password: []string{"Password:"},
		Ready:    []string{"{{.Hostname}}#"},
		Config:   []string{`re:{{.Hostname}}\(config[^)]*\)#`},
		Error:    []string{"% Invalid input"},
	}
}

func iosBringUp() []models.Step {
	return []models.Step{
		models.Expect(5*time.Second, "Press RETURN to get started").OrElse("poke").Branch("ret"),
		models.Send("").Labeled("poke"),
		models.Expect(5*time.Second, "Press RETURN to get started", "Username:").Branch("ret", "login").OrElse("poke"),
		models.Send("").Labeled("ret"),
		models.LoginUntil("{{.Hostname}}#", 10*time.Minute).Labeled("login"),
		models.WriteAfter("{{.Hostname}}#", "terminal length 0", time.Minute),
		models.WriteAfter("{{.Hostname}}#", "configure terminal", time.Minute),
		models.WriteAfter(`re:\(config\)#`, "crypto key generate rsa modulus 2048", time.Minute),
		models.WriteAfter(`re:\(config\)#`, "ip ssh version 2", 5*time.Minute),
		models.WriteAfter(`re:\(config\)#`, "netconf-yang", time.Minute),
		models.WriteAfter(`re:\(config\)#`, "end", time.Minute),
		models.WriteAfter("{{.Hostname}}#", "copy running-config startup-config", time.Minute),
		models.WaitConfig("show running-config | include netconf-yang", "netconf-yang", 2*time.Minute),
		models.SetReady().Only(models.ModeRun),
		models.WriteAfter("{{.Hostname}}#", "write memory", time.Minute).Only(models.ModeInstall),
		models.SetInstalled().Only(models.ModeInstall),
	}
}

func iosSidePrompts() []models.SidePrompt {
	return []models.SidePrompt{
		{Pattern: "Do you really want to replace them? [yes/no]:", Answer: "yes"},
		{Pattern: "Destination filename [startup-config]?", Answer: ""},
	}
}

func csr() *models.Profile {
	return &models.Profile{
		Family:      "csr",
		Description: "Cisco CSR 1000v",
		Hostname:    "csr",
		Username:    "admin",
		Password:    "admin",
		Forwards:    forwards(),
		Prompts:     iosPrompts(),
		SidePrompts: iosSidePrompts(),
		PollTimeout: 2 * time.Second,
		BringUp:     iosBringUp(),
		ConfigEnter: []string{"configure terminal"},
		ConfigExit:  []string{"end"},
		Instances: []models.InstanceSpec{{
			Name:        "csr",
			Role:        models.RoleControl,
			ImageMatch:  `csr1000v[\w-]*\.(?P<version>\d+\.\d+\.\d+\w*)[\w.-]*\.qcow2`,
			MachineType: "pc",
			CPUModel:    "host",
			RAMMB:       4096,
			VCPUs:       2,
			NICs:        9,
			NICModel:    "virtio-net-pci",
			DiskIface:   "virtio",
			Mgmt:        true,
			Traffic:     true,
			Artifacts: []models.Artifact{
				overlay(),
				{
					Kind:   models.ArtifactConfigISO,
					Path:   "config.iso",
					Label:  "config",
					Attach: models.AttachCDROM,
					Files:  map[string]string{"iosxe_config.txt": iosDay0},
				},
			},
		}},
	}
}

func c8000v() *models.Profile {
	p := csr()
	p.Family = "c8000v"
	p.Description = "Cisco Catalyst 8000V"
	p.Hostname = "c8000v"
	p.Instances[0].Name = "c8000v"
	p.Instances[0].ImageMatch = `c8000v[\w-]*\.(?P<version>\d+\.\d+\.\d+\w*)[\w.-]*\.qcow2`
	p.Instances[0].VCPUs = 1

	return p
}

func xrv9k() *models.Profile {
	ready := `re:RP/0/RP0/CPU0:[\w.-]+#`
	config := `re:RP/0/RP0/CPU0:[\w.-]+\(config[^)]*\)#`

	return &models.Profile{
		Family:      "xrv9k",
		Description: "Cisco IOS XRv 9000",
		Hostname:    "xrv9k",
		Username:    "clab",
		Password:    "clab@123",
		Forwards:    forwards(),
		PollTimeout: 5 * time.Second,
		MaxSpins:    360,
		Prompts: models.Prompts{
			Login:    []string{"Username:"},
			Password: []string{"Password:"},
			Ready:    []string{ready},
			Config:   []string{config},
			Busy:     []string{"re:(?i)application busy", "another commit in progress"},
		},
		BringUp: []models.Step{
			models.Expect(5*time.Second, "Enter root-system username:", "Username:").Branch("", "login"),
			models.Send("{{.Username}}"),
			models.WriteAfter("Enter secret:", "{{.Password}}", time.Minute),
			models.WriteAfter("Enter secret again:", "{{.Password}}", time.Minute),
			models.LoginUntil(ready, 20*time.Minute).Labeled("login"),
			models.WriteAfter(ready, "terminal length 0", time.Minute),
			models.WriteAfter(ready, "configure", time.Minute),
			models.WriteAfter(config, "hostname {{.Hostname}}", time.Minute),
			models.WriteAfter(config, "interface MgmtEth0/RP0/CPU0/0", time.Minute),
			models.WriteAfter(config, "ipv4 address {{.MgmtAddress}} {{.MgmtNetmask}}", time.Minute),
			models.WriteAfter(config, "no shutdown", time.Minute),
			models.WriteAfter(config, "exit", time.Minute),
			models.WriteAfter(config, "router static address-family ipv4 unicast 0.0.0.0/0 {{.MgmtGateway}}", time.Minute),
			models.WriteAfter(config, "ssh server v2", time.Minute),
			models.WriteAfter(config, "ssh server netconf vrf default", time.Minute),
			models.WriteAfter(config, "netconf-yang agent ssh", time.Minute),
			models.WriteAfter(config, "grpc port 57400", time.Minute),
			models.WriteAfter(config, "grpc no-tls", time.Minute),
			models.CommitAndWait("commit", "do show running-config hostname", "hostname {{.Hostname}}", 5*time.Minute),
			models.WriteAfter(config, "end", time.Minute),
			models.SetReady(),
		},
		ConfigEnter: []string{"configure"},
		ConfigExit:  []string{"commit", "end"},
		Instances: []models.InstanceSpec{{
			Name:        "xrv9k",
			Role:        models.RoleControl,
			ImageMatch:  `xrv9k[\w-]*?-(?P<version>\d+\.\d+\.\d+\w*)[\w.-]*\.qcow2`,
			MachineType: "pc",
			CPUModel:    "host",
			RAMMB:       16384,
			VCPUs:       4,
			NICs:        24,
			NICModel:    "virtio-net-pci",
			DiskIface:   "virtio",
			Mgmt:        true,
			Traffic:     true,
			ExtraArgs:   []string{"-smbios", "type=1,manufacturer=cisco,product=Cisco XRv9K"},
			Artifacts:   []models.Artifact{overlay()},
		}},
	}
}

func veos() *models.Profile {
	ready := `re:[\w.-]+#`
	config := `re:[\w.-]+\(config[^)]*\)#`

	return &models.Profile{
		Family:          "veos",
		Description:     "Arista vEOS",
		Hostname:        "veos",
		Username:        "admin",
		Password:        "admin",
		DefaultUsername: "admin",
		Forwards:        forwards(),
		PollTimeout:     2 * time.Second,
		Prompts: models.Prompts{
			Login:    []string{"re:[\\w.-]+ login:"},
			Password: []string{"Password:"},
			Ready:    []string{ready, `re:[\w.-]+>`},
			Config:   []string{config},
		},
		BringUp: []models.Step{
			models.Expect(5*time.Second, "re:[\\w.-]+ login:"),
			models.Send("admin"),
			models.WriteAfter(`re:[\w.-]+>`, "zerotouch cancel", time.Minute),
			models.Expect(5*time.Second, "re:[\\w.-]+ login:"),
			models.LoginUntil(`re:[\w.-]+>`, 10*time.Minute),
			models.Send("enable"),
			models.WriteAfter(ready, "configure", time.Minute),
			models.WriteAfter(config, "hostname {{.Hostname}}", time.Minute),
			models.WriteAfter(config, "username {{.Username}} privilege 15 secret 0 {{.Password}}", time.Minute),
			models.WriteAfter(config, "interface Management1", time.Minute),
			models.WriteAfter(config, "ip address {{.MgmtAddress}}/{{.MgmtPrefix}}", time.Minute),
			models.WriteAfter(config, "exit", time.Minute),
			models.WriteAfter(config, "ip route 0.0.0.0/0 {{.MgmtGateway}}", time.Minute),
			models.WriteAfter(config, "management api netconf", time.Minute),
			models.WriteAfter(config, "transport ssh default", time.Minute),
			models.WriteAfter(config, "management api gnmi", time.Minute),
			models.WriteAfter(config, "transport grpc default", time.Minute),
			models.WriteAfter(config, "end", time.Minute),
			models.WriteAfter(ready, "write memory", time.Minute),
			models.WaitConfig("show running-config section hostname", "hostname {{.Hostname}}", 2*time.Minute),
			models.SetReady(),
		},
		ConfigEnter: []string{"configure"},
		ConfigExit:  []string{"end"},
		Instances: []models.InstanceSpec{{
			Name:        "veos",
			Role:        models.RoleControl,
			ImageMatch:  `vEOS(64)?-lab-(?P<version>[\w.]+?)\.(vmdk|qcow2)`,
			MachineType: "pc",
			RAMMB:       2048,
			VCPUs:       1,
			NICs:        20,
			NICModel:    "e1000",
			DiskIface:   "ide",
			Mgmt:        true,
			Traffic:     true,
			Artifacts:   []models.Artifact{overlay()},
		}},
	}
}

// junosBringUp drives a factory-default Junos console into a configured
// system. Junos consoles drop input that arrives too fast, so every line is paced.
func junosBringUp(mgmtIface string, extra ...models.Step) []models.Step {
	cfg := `re:[\w@.-]+# $`

	steps := []models.Step{
		models.Expect(5*time.Second, "login:"),
		models.Send("root").Paced(),
		models.Expect(time.Minute, "root@:~ #", "root@% ", "root>").Branch("", "", "cli"),
		models.Send("cli").Paced(),
		models.Expect(time.Minute, "root>").Labeled("cli"),
		models.Send("configure").Paced(),
		models.Expect(time.Minute, cfg),
		models.Send("set system root-authentication plain-text-password").Paced(),
		models.Expect(time.Minute, "New password:"),
		models.Send("{{.Password}}").Paced(),
		models.Expect(time.Minute, "Retype new password:"),
		models.Send("{{.Password}}").Paced(),
		models.Expect(time.Minute, cfg),
		models.Send("set system login user {{.Username}} class super-user authentication plain-text-password").Paced(),
		models.Expect(time.Minute, "New password:"),
		models.Send("{{.Password}}").Paced(),
		models.Expect(time.Minute, "Retype new password:"),
		models.Send("{{.Password}}").Paced(),
		models.Expect(time.Minute, cfg),
		models.Send("set system host-name {{.Hostname}}").Paced(),
		models.Expect(time.Minute, cfg),
		models.Send("set system services ssh").Paced(),
		models.Expect(time.Minute, cfg),
		models.Send("set system services netconf ssh").Paced(),
		models.Expect(time.Minute, cfg),
		models.Send("set interfaces " + mgmtIface + " unit 0 family inet address {{.MgmtAddress}}/{{.MgmtPrefix}}").Paced(),
		models.Expect(time.Minute, cfg),
		models.Send("set routing-options static route 0.0.0.0/0 next-hop {{.MgmtGateway}}").Paced(),
		models.Expect(time.Minute, cfg),
	}

	for _, s := range extra {
		steps = append(steps, s, models.Expect(time.Minute, cfg))
	}

	return append(steps,
		models.CommitAndWait("commit", "run show configuration system host-name", "host-name {{.Hostname}}", 5*time.Minute),
		models.Send("exit").Paced(),
		models.SetReady(),
	)
}

func junosPrompts() models.Prompts {
	return models.Prompts{
		Login:    []string{"login:"},
		Password: []string{"Password:"},
		Ready:    []string{`re:[\w@.-]+[#>] $`},
		Config:   []string{`re:[\w@.-]+# $`},
		Busy:     []string{"configuration database locked", "re:(?i)commit in progress"},
	}
}

func vsrx() *models.Profile {
	return &models.Profile{
		Family:      "vsrx",
		Description: "Juniper vSRX",
		Hostname:    "vsrx",
		Username:    "admin",
		Password:    "admin@123",
		Forwards:    forwards(),
		PollTimeout: 2 * time.Second,
		CharDelay:   50 * time.Millisecond,
		Prompts:     junosPrompts(),
		BringUp:     junosBringUp("fxp0"),
		ConfigEnter: []string{"configure"},
		ConfigExit:  []string{"commit and-quit"},
		Instances: []models.InstanceSpec{{
			Name:        "vsrx",
			Role:        models.RoleControl,
			ImageMatch:  `(junos-)?vsrx3?-x86-64-(?P<version>[\w.-]+?)\.qcow2`,
			MachineType: "pc",
			CPUModel:    "host",
			RAMMB:       4096,
			VCPUs:       2,
			NICs:        16,
			NICModel:    "virtio-net-pci",
			DiskIface:   "virtio",
			Mgmt:        true,
			Traffic:     true,
			Artifacts:   []models.Artifact{overlay()},
		}},
	}
}

func vmx() *models.Profile {
	return &models.Profile{
		Family:         "vmx",
		Description:    "Juniper vMX (control and forwarding plane)",
		Hostname:       "vmx",
		Username:       "admin",
		Password:       "admin@123",
		Forwards:       forwards(),
		PollTimeout:    2 * time.Second,
		CharDelay:      50 * time.Millisecond,
		Prompts:        junosPrompts(),
		InternalBridge: "int_cp",
		BringUp: junosBringUp("fxp0",
			models.Send("set chassis fpc 0 lite-mode").Paced(),
			models.Send("set chassis network-services enhanced-ip").Paced(),
		),
		ConfigEnter: []string{"configure"},
		ConfigExit:  []string{"commit and-quit"},
		Instances: []models.InstanceSpec{
			{
				Name:        "vcp",
				Role:        models.RoleControl,
				ImageMatch:  `(junos-)?vmx-x86-64-(?P<version>[\w.-]+?)\.qcow2`,
				MachineType: "pc",
				CPUModel:    "host",
				RAMMB:       2048,
				VCPUs:       1,
				NICModel:    "virtio-net-pci",
				DiskIface:   "ide",
				Mgmt:        true,
				Internal:    true,
				Artifacts:   []models.Artifact{overlay()},
			},
			{
				Name:        "vfp",
				Role:        models.RoleForwarding,
				ImageMatch:  `vFPC-[\w.-]+\.img`,
				MachineType: "pc",
				CPUModel:    "host",
				RAMMB:       4096,
				VCPUs:       3,
				NICs:        12,
				NICModel:    "virtio-net-pci",
				DiskIface:   "ide",
				Internal:    true,
				Traffic:     true,
				BootDelay:   5 * time.Second,
				Artifacts:   []models.Artifact{overlay()},
			},
		},
	}
}

func sros() *models.Profile {
	ready := `re:[AB]:[\w@.-]+# $`

	return &models.Profile{
		Family:          "sros",
		Description:     "Nokia SR OS",
		Hostname:        "sros",
		Username:        "admin",
		Password:        "admin",
		DefaultUsername: "admin",
		DefaultPassword: "admin",
		Variant:         "sr-1",
		Forwards:        forwards(),
		PollTimeout:     2 * time.Second,
		Prompts: models.Prompts{
			Login:    []string{"Login:"},
			Password: []string{"Password:"},
			Ready:    []string{ready},
			Config:   []string{ready},
		},
		Variants: map[string]models.Variant{
			"sr-1": {RAMMB: 6144, VCPUs: 2, NICs: 12, Vars: map[string]string{
				"timos": "chassis=sr-1 card=cpm-1 slot=A mda/1=me12-100gb-qsfp28",
			}},
			"sr-1s": {RAMMB: 6144, VCPUs: 2, NICs: 36, Vars: map[string]string{
				"timos": "chassis=sr-1s card=xcm-1s slot=A mda/1=s36-100gb-qsfp28",
			}},
			"ixr-e": {RAMMB: 4096, VCPUs: 2, NICs: 24, Vars: map[string]string{
				"timos": "chassis=ixr-e card=imm24-sfp++8-sfp28+2-qsfp28 slot=A mda/1=m24-sfp++8-sfp28+2-qsfp28",
			}},
		},
		BringUp: []models.Step{
			models.LoginUntil(ready, 15*time.Minute),
			models.WriteAfter(ready, "environment no more", time.Minute),
			models.WriteAfter(ready, "configure system name {{.Hostname}}", time.Minute),
			models.WriteAfter(ready, `configure system security user "{{.Username}}" password {{.Password}}`, time.Minute),
			models.WriteAfter(ready, `configure system security user "{{.Username}}" access console netconf grpc`, time.Minute),
			models.WriteAfter(ready, "configure system netconf no shutdown", time.Minute),
			models.WriteAfter(ready, "configure system grpc allow-unsecure-connection", time.Minute),
			models.WriteAfter(ready, "configure system grpc no shutdown", time.Minute),
			models.WriteAfter(ready, "admin save", time.Minute),
			models.WaitConfig("admin display-config | match name", "name \"{{.Hostname}}\"", 2*time.Minute),
			models.SetReady(),
		},
		Instances: []models.InstanceSpec{{
			Name:        "sros",
			Role:        models.RoleControl,
			ImageMatch:  `sros-vm-(?P<version>[\w.-]+?)\.qcow2`,
			MachineType: "pc",
			CPUModel:    "host",
			RAMMB:       6144,
			VCPUs:       2,
			NICs:        12,
			NICModel:    "virtio-net-pci",
			DiskIface:   "virtio",
			Mgmt:        true,
			Traffic:     true,
			ExtraArgs: []string{
				"-smbios",
				`type=1,product=TIMOS:address={{.MgmtAddress}}/{{.MgmtPrefix}}@active static-route=0.0.0.0/0@{{.MgmtGateway}} license-file=tftp://{{.MgmtGateway}}/license.txt {{index .Tunables "timos"}}`,
			},
			Artifacts: []models.Artifact{
				overlay(),
				{
					Kind:  models.ArtifactTFTPFile,
					Path:  "license.txt",
					Files: map[string]string{"license.txt": "{{range .Licenses}}{{.}}\n{{end}}"},
				},
			},
		}},
	}
}

func vedge() *models.Profile {
	ready := `re:[\w.-]+# $`

	return &models.Profile{
		Family:          "vedge",
		Description:     "SD-WAN edge",
		Hostname:        "vedge",
		Username:        "admin",
		Password:        "admin@123",
		DefaultUsername: "admin",
		DefaultPassword: "admin",
		Forwards:        forwards(),
		PollTimeout:     2 * time.Second,
		Prompts: models.Prompts{
			Login:    []string{"login:"},
			Password: []string{"Password:"},
			Ready:    []string{ready},
			Config:   []string{`re:[\w.-]+\(config[^)]*\)# $`},
			NewPass:  []string{"You must set an initial admin password.\r\nPassword:", "Re-enter password:"},
			Busy:     []string{"re:(?i)application busy"},
		},
		Tunables: map[string]string{
			"organization-name": "vrnode",
			"vbond":             "10.0.0.10",
			"system-ip":         "1.1.1.1",
			"site-id":           "1",
		},
		BringUp: []models.Step{
			models.RotateCredentials(15 * time.Minute),
			models.WriteAfter(ready, "config", time.Minute),
			models.WriteAfter(`re:\(config\)# $`, "system host-name {{.Hostname}}", time.Minute),
			models.CommitAndWait("commit and-quit", "show running-config system host-name", "host-name {{.Hostname}}", 5*time.Minute),
			models.SetReady(),
		},
		ConfigEnter: []string{"config"},
		ConfigExit:  []string{"commit and-quit"},
		Instances: []models.InstanceSpec{{
			Name:        "vedge",
			Role:        models.RoleControl,
			ImageMatch:  `viptela-edge-(?P<version>[\w.-]+?)-genericx86-64\.qcow2`,
			MachineType: "pc",
			CPUModel:    "host",
			RAMMB:       2048,
			VCPUs:       2,
			NICs:        8,
			NICModel:    "virtio-net-pci",
			DiskIface:   "virtio",
			Mgmt:        true,
			Traffic:     true,
			Artifacts: []models.Artifact{
				overlay(),
				{
					Kind:   models.ArtifactCloudInit,
					Path:   "cloud-init.iso",
					Label:  "cidata",
					Attach: models.AttachCDROM,
				},
			},
		}},
	}
}
