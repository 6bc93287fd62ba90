package buildinfo

// Populated at link time, e.g.
//
//	go build -ldflags "-X github.com/cleared-dev/recon/internal/buildinfo.Version=v0.3.0"
var (
	// Version is the release tag of the recon binary.
	Version = "dev"
	// Commit is the git revision the binary was built from.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)
