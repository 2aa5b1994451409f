package version

import "testing"

func TestGetVersionInfo(t *testing.T) {
	previousVersion := Version
	previousBuilt := Built
	previousCommit := GitCommit

	Version = "1.2.3"
	Built = "2026-01-11T12:34:56Z"
	GitCommit = "abc123"

	t.Cleanup(func() {
		Version = previousVersion
		Built = previousBuilt
		GitCommit = previousCommit
	})

	info := GetVersionInfo()
	if info.Version != "1.2.3" {
		t.Fatalf("expected version to be 1.2.3, got %q", info.Version)
	}
	if info.Major != 1 || info.Minor != 2 || info.Patch != 3 {
		t.Fatalf("expected 1.2.3, got %d.%d.%d", info.Major, info.Minor, info.Patch)
	}
	if info.Built != "2026-01-11T12:34:56Z" {
		t.Fatalf("expected built timestamp to be preserved, got %q", info.Built)
	}
	if info.GitCommit != "abc123" {
		t.Fatalf("expected git commit to be preserved, got %q", info.GitCommit)
	}
}

func TestParseSemver(t *testing.T) {
	cases := []struct {
		input               string
		major, minor, patch int
	}{
		{"1.2.3", 1, 2, 3},
		{"v2.0.1", 2, 0, 1},
		{"1.4.0-rc.1", 1, 4, 0},
		{"3.1.7+build.9", 3, 1, 7},
		{"dev", 0, 0, 0},
		{"", 0, 0, 0},
		{"1.x.3", 0, 0, 0},
	}
	for _, testCase := range cases {
		major, minor, patch := parseSemver(testCase.input)
		if major != testCase.major || minor != testCase.minor || patch != testCase.patch {
			t.Fatalf("parseSemver(%q) = %d.%d.%d, expected %d.%d.%d",
				testCase.input, major, minor, patch, testCase.major, testCase.minor, testCase.patch)
		}
	}
}
