package config

import (
	"time"

	"vrnode/pkg/log"
)

// Config holds the settings of every vrnode command.
type Config struct {
	// Logging contains the logging related config.
	Logging log.Config

	// Device selection and the user overrides applied to its profile.
	Family         string
	ImageDir       string
	Hostname       string
	Username       string
	Password       string
	ConnectionMode string
	Variant        string
	NICs           int
	RAM            string
	VCPUs          int
	Install        bool
	StartupConfig  string
	OverridesFile  string
	Licenses       []string
	Tunables       map[string]string

	// SD-WAN bootstrap parameters; they land in the profile tunables.
	SDWAN SDWANConfig

	// StateRootDir is the directory for emulator state and artifacts.
	StateRootDir string
	// HealthFile is where the health record is published.
	HealthFile string
	// TFTPRoot is served to the device by the emulator.
	TFTPRoot   string
	QemuBin    string
	QemuImgBin string
	// MgmtForward selects the management forwarding mode: userspace or nat.
	MgmtForward string
	// ExternalDevice restricts nat forwards to one interface.
	ExternalDevice string
	// MetricsEndpoint serves Prometheus metrics when set.
	MetricsEndpoint string
	// StatusEndpoint serves the gRPC health service when set.
	StatusEndpoint string

	Fabric  FabricConfig
	Forward ForwardConfig
}

type SDWANConfig struct {
	OrganizationName string
	VBond            string
	SystemIP         string
	SiteID           string
	TransportAddress string
	TransportGateway string
}

// FabricConfig is shared by the relay commands.
type FabricConfig struct {
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

type ForwardConfig struct {
	Rules      []string
	ListenHost string
	UDPIdle    time.Duration
}
