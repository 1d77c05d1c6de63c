package version

var (
	// PackageName is the name of the package.
	PackageName = "vrnode"
	// Version is the current version.
	Version = "undefined"
	// CommitHash is the commit hash of the build.
	CommitHash = "undefined"
	// BuildDate is the date the build was created.
	BuildDate = "undefined"
)
