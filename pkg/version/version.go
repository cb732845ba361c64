// Package version reports how the indexsync binary was built. Release builds
// set the linker variables; other builds fall back to the module and VCS
// metadata the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X github.com/Aman-CERP/indexsync/pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// components are the storage engines whose versions decide index and journal
// compatibility.
var components = map[string]string{
	"github.com/blevesearch/bleve/v2": "bleve",
	"github.com/cockroachdb/pebble":   "pebble",
	"modernc.org/sqlite":              "sqlite",
}

const shortCommit = 12

// Info describes one indexsync build.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	// Components maps bleve, pebble and sqlite to their module versions.
	Components map[string]string `json:"components,omitempty"`
}

// Get returns the running binary's build information.
func Get() Info {
	bi, _ := debug.ReadBuildInfo()
	return resolve(bi)
}

// Short returns the version alone.
func Short() string { return Get().Version }

func resolve(bi *debug.BuildInfo) Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi == nil {
		return info
	}

	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	if len(info.Commit) > shortCommit {
		info.Commit = info.Commit[:shortCommit]
	}

	for _, dep := range bi.Deps {
		name, ok := components[dep.Path]
		if !ok {
			continue
		}
		if info.Components == nil {
			info.Components = make(map[string]string, len(components))
		}
		if dep.Replace != nil {
			dep = dep.Replace
		}
		info.Components[name] = dep.Version
	}
	return info
}

// String renders the build on one line, followed by one line per storage
// component.
func (i Info) String() string {
	var b strings.Builder
	commit := i.Commit
	if commit == "" {
		commit = "unknown"
	}
	if i.Modified {
		commit += "-dirty"
	}
	date := i.Date
	if date == "" {
		date = "unknown"
	}
	fmt.Fprintf(&b, "indexsync %s (commit %s, built %s, %s %s)", i.Version, commit, date, i.GoVersion, i.Platform)

	for _, name := range []string{"bleve", "pebble", "sqlite"} {
		if v, ok := i.Components[name]; ok {
			fmt.Fprintf(&b, "\n  %-7s %s", name, v)
		}
	}
	return b.String()
}
