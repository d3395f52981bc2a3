// Package version reports the sitebuild version, taken from -ldflags when the
// release pipeline sets them and from the embedded module build info
// otherwise.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Set with -ldflags "-X github.com/conneroisu/sitebuild/internal/version.Version=v1.2.3".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string    `json:"version"   yaml:"version"`
	GitCommit string    `json:"git_commit" yaml:"git_commit"`
	BuildTime time.Time `json:"build_time" yaml:"build_time"`
	GoVersion string    `json:"go_version" yaml:"go_version"`
	Platform  string    `json:"platform"   yaml:"platform"`
	Dirty     bool      `json:"dirty"      yaml:"dirty"`
	Release   bool      `json:"release"    yaml:"release"`
}

type vcsInfo struct {
	module   string
	revision string
	time     string
	modified bool
}

var vcs = sync.OnceValue(func() vcsInfo {
	var v vcsInfo
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	if info.Main.Version != "(devel)" {
		v.module = info.Main.Version
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			v.revision = setting.Value
		case "vcs.time":
			v.time = setting.Value
		case "vcs.modified":
			v.modified = setting.Value == "true"
		}
	}
	return v
})

// Get returns the build information of the running binary.
func Get() Info {
	v := vcs()
	info := Info{
		Version:   resolveVersion(Version, v),
		GitCommit: resolveCommit(GitCommit, v),
		BuildTime: parseTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dirty:     v.modified,
	}
	if info.BuildTime.IsZero() {
		info.BuildTime = parseTime(v.time)
	}
	info.Release = info.Version != "dev" && !strings.HasPrefix(info.Version, "dev-")
	return info
}

// Short returns a one-line version such as "v1.2.0 (abc1234)" or
// "dev-abc1234".
func Short() string {
	return Get().Short()
}

// Short formats info on one line.
func (i Info) Short() string {
	if len(i.GitCommit) < 7 || i.GitCommit == "unknown" {
		return i.Version
	}
	commit := i.GitCommit[:7]
	switch {
	case i.Version == "dev":
		return "dev-" + commit
	case strings.HasPrefix(i.Version, "dev-"):
		return i.Version
	default:
		return fmt.Sprintf("%s (%s)", i.Version, commit)
	}
}

// String renders every known field, one per line.
func (i Info) String() string {
	lines := []string{"Version: " + i.Version}
	if i.GitCommit != "unknown" {
		lines = append(lines, "Commit: "+i.GitCommit)
	}
	if !i.BuildTime.IsZero() {
		lines = append(lines, "Built: "+i.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+i.GoVersion, "Platform: "+i.Platform)
	if i.Dirty {
		lines = append(lines, "Working directory: dirty")
	}
	return strings.Join(lines, "\n")
}

func resolveVersion(ldflag string, v vcsInfo) string {
	if ldflag != "" && ldflag != "dev" {
		return ldflag
	}
	if v.module != "" {
		return v.module
	}
	if len(v.revision) >= 7 {
		return "dev-" + v.revision[:7]
	}
	return "dev"
}

func resolveCommit(ldflag string, v vcsInfo) string {
	if ldflag != "" && ldflag != "unknown" {
		return ldflag
	}
	if v.revision != "" {
		return v.revision
	}
	return "unknown"
}

// parseTime accepts RFC 3339 and a few looser layouts; anything else is the
// zero time.
func parseTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
