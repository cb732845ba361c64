package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// link sets the linker variables for one test.
func link(t *testing.T, version, commit, date string) {
	t.Helper()
	v, c, d := Version, Commit, Date
	Version, Commit, Date = version, commit, date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })
}

func vcsBuild() *debug.BuildInfo {
	return &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/Aman-CERP/indexsync", Version: "v0.4.1"},
		Deps: []*debug.Module{
			{Path: "github.com/blevesearch/bleve/v2", Version: "v2.5.7"},
			{Path: "github.com/cockroachdb/pebble", Version: "v1.1.5"},
			{Path: "modernc.org/sqlite", Version: "v1.44.0", Replace: &debug.Module{Path: "modernc.org/sqlite", Version: "v1.44.1"}},
			{Path: "github.com/spf13/cobra", Version: "v1.10.2"},
		},
		Settings: []debug.BuildSetting{
			{Key: "vcs", Value: "git"},
			{Key: "vcs.revision", Value: "3f2c9a1d8e7b6a5f4e3d2c1b0a9f8e7d6c5b4a3f"},
			{Key: "vcs.time", Value: "2026-09-30T08:15:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
}

func TestResolve_FallsBackToEmbeddedMetadata(t *testing.T) {
	// Given a build without linker flags
	link(t, "dev", "", "")

	// When resolving the embedded build info
	info := resolve(vcsBuild())

	// Then module and VCS settings fill the gaps
	assert.Equal(t, "v0.4.1", info.Version)
	assert.Equal(t, "3f2c9a1d8e7b", info.Commit)
	assert.Equal(t, "2026-09-30T08:15:00Z", info.Date)
	assert.True(t, info.Modified)
	assert.Equal(t, map[string]string{
		"bleve":  "v2.5.7",
		"pebble": "v1.1.5",
		"sqlite": "v1.44.1",
	}, info.Components)
}

func TestResolve_LinkerFlagsWin(t *testing.T) {
	// Given a release build
	link(t, "1.2.0", "abc1234", "2026-10-01T00:00:00Z")

	// When resolving
	info := resolve(vcsBuild())

	// Then the linked values are kept
	assert.Equal(t, "1.2.0", info.Version)
	assert.Equal(t, "abc1234", info.Commit)
	assert.Equal(t, "2026-10-01T00:00:00Z", info.Date)
}

func TestResolve_DevelModuleKeepsDev(t *testing.T) {
	link(t, "dev", "", "")
	bi := &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}

	info := resolve(bi)

	assert.Equal(t, "dev", info.Version)
	assert.Empty(t, info.Commit)
	assert.Nil(t, info.Components)
}

func TestResolve_WithoutBuildInfo(t *testing.T) {
	link(t, "dev", "", "")

	info := resolve(nil)

	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestInfo_String(t *testing.T) {
	// Given a dirty build with storage components
	link(t, "dev", "", "")
	info := resolve(vcsBuild())

	// When rendering it
	lines := strings.Split(info.String(), "\n")

	// Then the header names the build and each component gets a line
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "indexsync v0.4.1 (commit 3f2c9a1d8e7b-dirty, built 2026-09-30T08:15:00Z")
	assert.Equal(t, "  bleve   v2.5.7", lines[1])
	assert.Equal(t, "  sqlite  v1.44.1", lines[3])

	// And unknown metadata is spelled out
	assert.Contains(t, Info{Version: "dev"}.String(), "commit unknown, built unknown")
}
