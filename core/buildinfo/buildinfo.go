// Package buildinfo holds values stamped in at link time:
//
//	go build -ldflags "\
//	  -X github.com/m3rciful/placebot/core/buildinfo.Version=v1.2.3 \
//	  -X github.com/m3rciful/placebot/core/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/m3rciful/placebot/core/buildinfo.Date=$(date -u +%FT%TZ)" ./cmd/placebot
package buildinfo

import "strings"

var (
	Version = "dev"
	Commit  = "local"
	Date    = ""
)

// Summary renders "<name> <version> (<commit>)" followed by the build date when known.
func Summary(name string) string {
	parts := []string{name, Version, "(" + Commit + ")"}
	if Date != "" {
		parts = append(parts, Date)
	}
	return strings.Join(parts, " ")
}
