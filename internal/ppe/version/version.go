package version

import "fmt"

// Set via -ldflags "-X github.com/abdul-hamid-achik/ppescan/internal/ppe/version.Version=..." at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func Full() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}

func Short() string {
	return Version
}
