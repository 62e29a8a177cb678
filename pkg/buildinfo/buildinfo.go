// Package buildinfo reports which build of the toolkit is running.
//
// Release builds inject version, commit and date with -ldflags and pass
// them to Set from main. Builds from a git checkout fall back to the VCS
// settings embedded by the Go toolchain.
package buildinfo

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"
)

type Info struct {
	Version  string // "dev" unless tagged or injected
	Commit   string
	Date     string // RFC3339
	Modified bool   // built from a dirty working tree
	GoVer    string
}

var (
	ldflagsVersion string
	ldflagsCommit  string
	ldflagsDate    string

	once   sync.Once
	cached Info
)

// Set records the values injected into main, e.g.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Empty values leave the VCS fallback in place.
func Set(version, commit, date string) {
	ldflagsVersion = version
	ldflagsCommit = commit
	ldflagsDate = date
}

// Get resolves the build info once and caches it.
func Get() Info {
	once.Do(func() {
		cached = resolve(debug.ReadBuildInfo())
	})
	return cached
}

func resolve(bi *debug.BuildInfo, ok bool) Info {
	info := Info{Version: "dev", Commit: "unknown", Date: "unknown"}
	if ok {
		info.GoVer = bi.GoVersion
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Commit = s.Value
			case "vcs.time":
				info.Date = s.Value
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
		if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
	}
	if ldflagsVersion != "" {
		info.Version = ldflagsVersion
	}
	if ldflagsCommit != "" {
		info.Commit = ldflagsCommit
	}
	if ldflagsDate != "" {
		info.Date = ldflagsDate
	}
	return info
}

func (i Info) String() string {
	commit := i.Commit
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (commit %s, built %s, %s)", i.Version, commit, i.Date, i.GoVer)
}

// VersionCmd prints the build info of the running binary.
type VersionCmd struct{}

func (v *VersionCmd) Run() error {
	return v.write(os.Stdout)
}

func (v *VersionCmd) write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "crptoolkit %s\n", Get())
	return err
}
