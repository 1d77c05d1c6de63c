package flags

import (
	"fmt"
	"strconv"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"vrnode/internal/config"
	"vrnode/pkg/defaults"
	"vrnode/pkg/errors"
	"vrnode/pkg/models"
)

const (
	familyFlag         = "family"
	imageDirFlag       = "image-dir"
	hostnameFlag       = "hostname"
	usernameFlag       = "username"
	passwordFlag       = "password"
	connectionModeFlag = "connection-mode"
	variantFlag        = "variant"
	nicsFlag           = "nics"
	ramFlag            = "ram"
	vcpuFlag           = "vcpu"
	installFlag        = "install"
	startupConfigFlag  = "startup-config"
	overridesFlag      = "overrides"
	licenseFlag        = "license"
	tunableFlag        = "tunable"

	organizationFlag     = "organization-name"
	vbondFlag            = "vbond"
	systemIPFlag         = "system-ip"
	siteIDFlag           = "site-id"
	transportAddressFlag = "transport-address"
	transportGatewayFlag = "transport-gateway"

	mgmtForwardFlag = "mgmt-forward"

	MgmtForwardUserspace = "userspace"
	MgmtForwardNAT       = "nat"
)

// AddDeviceFlagsToCommand adds the flags that select and override the
// device profile.
func AddDeviceFlagsToCommand(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&cfg.Family,
		familyFlag,
		"",
		"The device family. Detected from the image when empty.")

	cmd.Flags().StringVar(&cfg.ImageDir,
		imageDirFlag,
		defaults.ImageDir,
		"The directory scanned for the vendor image.")

	cmd.Flags().StringVar(&cfg.Hostname, hostnameFlag, "", "The device hostname (default family specific).")
	cmd.Flags().StringVar(&cfg.Username, usernameFlag, "", "The user created on the device.")
	cmd.Flags().StringVar(&cfg.Password, passwordFlag, "", "The password of that user.")

	cmd.Flags().StringVar(&cfg.ConnectionMode,
		connectionModeFlag,
		"",
		"How the wire endpoints are joined to the topology. Recorded for the fabric.")

	cmd.Flags().StringVar(&cfg.Variant, variantFlag, "", "The hardware variant for families that have them.")
	cmd.Flags().IntVar(&cfg.NICs, nicsFlag, 0, "The number of traffic NICs.")
	cmd.Flags().StringVar(&cfg.RAM, ramFlag, "", "The guest memory, e.g. 4096 or 4G. A bare number is MiB.")
	cmd.Flags().IntVar(&cfg.VCPUs, vcpuFlag, 0, "The number of guest vCPUs.")

	cmd.Flags().BoolVar(&cfg.Install,
		installFlag,
		false,
		"Run the install bring-up and power the device off when it finishes.")

	cmd.Flags().StringVar(&cfg.StartupConfig,
		startupConfigFlag,
		"",
		"The configuration replayed into the device once it is ready (default family specific).")

	cmd.Flags().StringVar(&cfg.OverridesFile,
		overridesFlag,
		"",
		"A TOML file with the same overrides as the flags. Flags win.")

	cmd.Flags().StringSliceVar(&cfg.Licenses, licenseFlag, nil, "License keys handed to the device.")
	cmd.Flags().StringToStringVar(&cfg.Tunables, tunableFlag, nil, "Family specific key=value settings.")
}

// AddSDWANFlagsToCommand adds the SD-WAN bootstrap parameters.
func AddSDWANFlagsToCommand(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&cfg.SDWAN.OrganizationName, organizationFlag, "", "The SD-WAN organization name.")
	cmd.Flags().StringVar(&cfg.SDWAN.VBond, vbondFlag, "", "The address of the SD-WAN orchestrator.")
	cmd.Flags().StringVar(&cfg.SDWAN.SystemIP, systemIPFlag, "", "The SD-WAN system IP.")
	cmd.Flags().StringVar(&cfg.SDWAN.SiteID, siteIDFlag, "", "The SD-WAN site id.")
	cmd.Flags().StringVar(&cfg.SDWAN.TransportAddress, transportAddressFlag, "", "The transport interface address in CIDR form.")
	cmd.Flags().StringVar(&cfg.SDWAN.TransportGateway, transportGatewayFlag, "", "The transport interface gateway.")
}

// AddRuntimeFlagsToCommand adds the paths and tools of the container.
func AddRuntimeFlagsToCommand(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&cfg.StateRootDir,
		"state-dir",
		defaults.StateRootDir,
		"The directory to use for the as the root for runtime state.")

	cmd.Flags().StringVar(&cfg.HealthFile, "health-file", defaults.HealthFile, "Where the health record is published.")
	cmd.Flags().StringVar(&cfg.TFTPRoot, "tftp-root", defaults.TFTPRoot, "The directory served to the device over TFTP.")
	cmd.Flags().StringVar(&cfg.QemuBin, "qemu-bin", defaults.QemuBin, "The path to the emulator binary to use.")
	cmd.Flags().StringVar(&cfg.QemuImgBin, "qemu-img-bin", defaults.QemuImgBin, "The path to the disk image tool to use.")

	cmd.Flags().StringVar(&cfg.MgmtForward,
		mgmtForwardFlag,
		MgmtForwardUserspace,
		"How management ports reach the device: userspace or nat.")

	cmd.Flags().StringVar(&cfg.ExternalDevice,
		"external-device",
		"",
		"Restrict nat forwards to this interface.")
}

// AddObservabilityFlagsToCommand adds the metrics and status endpoints.
func AddObservabilityFlagsToCommand(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&cfg.MetricsEndpoint,
		"metrics-endpoint",
		defaults.MetricsEndpoint,
		"The endpoint for the metrics server to listen on (e.g. 0.0.0.0:9090). Empty disables it.")

	cmd.Flags().StringVar(&cfg.StatusEndpoint,
		"status-endpoint",
		defaults.StatusEndpoint,
		"The endpoint for the gRPC health service to listen on. Empty disables it.")
}

// AddFabricFlagsToCommand adds the reconnect tuning of the relays.
func AddFabricFlagsToCommand(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().DurationVar(&cfg.Fabric.ReconnectMin, "reconnect-min", defaults.ReconnectMin, "The first reconnect delay.")
	cmd.Flags().DurationVar(&cfg.Fabric.ReconnectMax, "reconnect-max", defaults.ReconnectMax, "The longest reconnect delay.")
}

// AddForwardFlagsToCommand adds the userspace forwarder flags.
func AddForwardFlagsToCommand(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringSliceVar(&cfg.Forward.Rules,
		"rule",
		nil,
		"A forward as proto:listen:target, e.g. tcp:22:2022. Defaults to the management forwards.")

	cmd.Flags().StringVar(&cfg.Forward.ListenHost, "listen-host", "", "The address to listen on. Empty means all.")
	cmd.Flags().DurationVar(&cfg.Forward.UDPIdle, "udp-idle", 0, "How long an idle UDP client keeps its session.")
}

// Options collects the overrides the user actually set, by flag or
// environment, so unset flags keep the family defaults.
func Options(cmd *cobra.Command, cfg *config.Config) (models.Options, error) {
	var o models.Options

	changed := cmd.Flags().Changed

	if changed(hostnameFlag) {
		o.Hostname = &cfg.Hostname
	}

	if changed(usernameFlag) {
		o.Username = &cfg.Username
	}

	if changed(passwordFlag) {
		o.Password = &cfg.Password
	}

	if changed(connectionModeFlag) {
		o.ConnectionMode = &cfg.ConnectionMode
	}

	if changed(variantFlag) {
		o.Variant = &cfg.Variant
	}

	if changed(nicsFlag) {
		o.NICs = &cfg.NICs
	}

	if changed(vcpuFlag) {
		o.VCPUs = &cfg.VCPUs
	}

	if changed(ramFlag) {
		mb, err := ParseRAM(cfg.RAM)
		if err != nil {
			return o, err
		}

		o.RAMMB = &mb
	}

	if changed(installFlag) {
		o.Install = &cfg.Install
	}

	if changed(startupConfigFlag) {
		o.StartupConfig = &cfg.StartupConfig
	}

	if changed(licenseFlag) {
		o.Licenses = cfg.Licenses
	}

	tunables := map[string]string{}
	for k, v := range cfg.Tunables {
		tunables[k] = v
	}

	for flag, v := range map[string]string{
		organizationFlag:     cfg.SDWAN.OrganizationName,
		vbondFlag:            cfg.SDWAN.VBond,
		systemIPFlag:         cfg.SDWAN.SystemIP,
		siteIDFlag:           cfg.SDWAN.SiteID,
		transportAddressFlag: cfg.SDWAN.TransportAddress,
		transportGatewayFlag: cfg.SDWAN.TransportGateway,
	} {
		if cmd.Flags().Lookup(flag) != nil && changed(flag) {
			tunables[flag] = v
		}
	}

	if len(tunables) > 0 {
		o.Tunables = tunables
	}

	return o, nil
}

// ParseRAM reads a memory size in MiB. Bare numbers are MiB; suffixed
// values such as 4G are binary units.
func ParseRAM(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, errors.UserInputError{Field: ramFlag, Reason: fmt.Sprintf("%q is not positive", s)}
		}

		return n, nil
	}

	b, err := units.RAMInBytes(s)
	if err != nil || b < units.MiB {
		return 0, errors.UserInputError{Field: ramFlag, Reason: fmt.Sprintf("%q is not a memory size", s)}
	}

	return int(b / units.MiB), nil
}

// ValidateMgmtForward rejects unknown forwarding modes.
func ValidateMgmtForward(mode string) error {
	switch mode {
	case MgmtForwardUserspace, MgmtForwardNAT:
		return nil
	default:
		return errors.UserInputError{Field: mgmtForwardFlag, Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
}
