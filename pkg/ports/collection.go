package ports

import (
	"time"

	"github.com/spf13/afero"
)

// Collection is everything the controller talks to outside the process.
type Collection struct {
	Emulators      EmulatorService
	DiskService    DiskService
	NetworkService NetworkService
	Runner         CommandRunner
	Health         HealthPublisher
	FileSystem     afero.Fs
	Clock          func() time.Time
}
