// Package version exposes the build version embedded from VERSION.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the embedded version with whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}
