// Package buildinfo carries the release stamp of the sndpwm binaries.
//
// Set the variables with
//
//	-ldflags "-X sndpwm/internal/buildinfo.Version=v1.2.0 -X sndpwm/internal/buildinfo.Commit=abc1234"
package buildinfo

import "strings"

const Name = "sndpwm"

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Short is the version for banners: the release tag, else the commit,
// else "dev".
func Short() string {
	switch {
	case Version != "" && Version != "dev":
		return Version
	case Commit != "":
		return Commit
	}
	return "dev"
}

// String is the full stamp printed by -version, e.g.
// "sndpwm v1.2.0 (abc1234, 2026-01-02)".
func String() string {
	var meta []string
	if Commit != "" && Commit != Short() {
		meta = append(meta, Commit)
	}
	if Date != "" {
		meta = append(meta, Date)
	}
	s := Name + " " + Short()
	if len(meta) > 0 {
		s += " (" + strings.Join(meta, ", ") + ")"
	}
	return s
}
