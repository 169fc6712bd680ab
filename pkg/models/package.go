package models

import "strings"

// Package represents the project whose manifest is being audited
type Package struct {
	ID      string `json:"id"`      // "my-app@1.0.0"
	Name    string `json:"name"`    // "my-app"
	Version string `json:"version"` // "1.0.0"
}

// Dependency represents a single declared dependency as written in the manifest
type Dependency struct {
	Name        string `json:"name"`         // "lodash"
	VersionSpec string `json:"version_spec"` // "^4.17.21"
}

// Version returns the version used for registry lookups
func (d Dependency) Version() string {
	return NormalizeVersion(d.VersionSpec)
}

// ID returns "name@version" using the normalized version
func (d Dependency) ID() string {
	return d.Name + "@" + d.Version()
}

// NormalizeVersion strips range decorators from a version spec and keeps
// only the first explicit version token.
//
//	"^4.17.21"         -> "4.17.21"
//	">= 1.2.0 < 2"     -> "1.2.0"
//	"^1.0.0 || ^2.0.0" -> "1.0.0"
//	"*", ""            -> "latest"
func NormalizeVersion(spec string) string {
	spec = strings.TrimSpace(spec)
	if idx := strings.Index(spec, "||"); idx != -1 {
		spec = spec[:idx]
	}

	for _, field := range strings.Fields(spec) {
		token := strings.TrimLeft(field, "^~<>=v")
		if token == "" {
			continue
		}
		switch token {
		case "*", "x", "X":
			return "latest"
		}
		return token
	}

	return "latest"
}
