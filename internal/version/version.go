package version

import (
	"strconv"
	"strings"
)

// Version, Built, and GitCommit are set at build time using -ldflags.
var Version = "dev"
var Built = ""
var GitCommit = ""

type VersionInfo struct {
	Version   string `json:"version"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Built     string `json:"built"`
	GitCommit string `json:"git_commit,omitempty"`
}

func GetVersionInfo() VersionInfo {
	major, minor, patch := parseSemver(Version)
	return VersionInfo{
		Version:   Version,
		Major:     major,
		Minor:     minor,
		Patch:     patch,
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// parseSemver splits a MAJOR.MINOR.PATCH string, tolerating a leading "v"
// and trailing pre-release or build suffixes. Non-semver values such as
// "dev" yield zeros.
func parseSemver(value string) (int, int, int) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "v")
	if at := strings.IndexAny(value, "-+"); at >= 0 {
		value = value[:at]
	}
	parts := strings.SplitN(value, ".", 3)
	numbers := [3]int{}
	for i := 0; i < len(parts) && i < 3; i++ {
		parsed, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0, 0, 0
		}
		numbers[i] = parsed
	}
	return numbers[0], numbers[1], numbers[2]
}
