// Package version reports the splashguard build.
package version

import (
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X splashguard/internal/version.Version=..." etc.
// Commit and BuildDate fall back to the VCS stamp Go embeds in the binary.
var (
	Version   = "0.4.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var stampOnce sync.Once

// stamp fills Commit and BuildDate from build info when ldflags left them unset.
func stamp() {
	stampOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		applyBuildSettings(info.Settings)
	})
}

func applyBuildSettings(settings []debug.BuildSetting) {
	dirty := false
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" {
				Commit = s.Value
			}
		case "vcs.time":
			if BuildDate == "unknown" {
				BuildDate = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && Commit != "unknown" {
		Commit += "-dirty"
	}
}

// Info returns the version with a short commit when known, e.g. "0.4.0 (abc1234)".
func Info() string {
	stamp()
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns the multi-line version banner.
func Full() string {
	stamp()
	return "splashguard version " + Version + "\n" +
		"Commit: " + Commit + "\n" +
		"Built: " + BuildDate
}
