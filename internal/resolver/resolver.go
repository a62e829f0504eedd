// Package resolver locates the runtime root: the directory holding the
// backend launcher scripts and payload. The same binary runs from a
// development tree, a packaged install and an application bundle, so the root
// is found by a prioritized heuristic search rather than configuration.
package resolver

import (
	"os"
	"path/filepath"

	"github.com/loykin/livuals/internal/platform"
)

const (
	DefaultPayloadDir   = "livuals"
	DefaultMaxAncestors = 16
)

// DefaultNestedDirs are probed beneath every candidate.
var DefaultNestedDirs = []string{"iaarabes", "resources"}

// scriptDirs are the places a script may live relative to a root.
var scriptDirs = []string{"", "resources", "scripts"}

// Source says where a candidate came from.
type Source string

const (
	SourceHint     Source = "hint"
	SourceExe      Source = "exe"
	SourceBundle   Source = "bundle"
	SourceCwd      Source = "cwd"
	SourceFallback Source = "fallback"
)

// Inputs are the facts a resolution is computed from.
type Inputs struct {
	Hint       string // packaged resource directory, "" when not bundled
	Executable string // path of the running executable
	Cwd        string // working directory
}

// Candidate is a directory considered as a runtime root.
type Candidate struct {
	Dir    string
	Source Source
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Root   string
	Source Source
	// Pass is 1 when scripts and payload matched, 2 when only scripts did,
	// 0 when the fallback was used.
	Pass int
}

// Resolver holds the layout rules. The zero value is not usable; use New.
type Resolver struct {
	FS           FS
	Platform     platform.PlatformOps
	PayloadDir   string
	NestedDirs   []string
	MaxAncestors int
}

// New returns a resolver over the real filesystem with default layout.
func New(p platform.PlatformOps) *Resolver {
	return &Resolver{
		FS:           OSFS{},
		Platform:     p,
		PayloadDir:   DefaultPayloadDir,
		NestedDirs:   DefaultNestedDirs,
		MaxAncestors: DefaultMaxAncestors,
	}
}

// InputsFromOS fills Inputs from the running process.
func InputsFromOS(hint string) Inputs {
	in := Inputs{Hint: hint}
	if exe, err := os.Executable(); err == nil {
		if real, err := filepath.EvalSymlinks(exe); err == nil {
			exe = real
		}
		in.Executable = exe
	}
	if cwd, err := os.Getwd(); err == nil {
		in.Cwd = cwd
	}
	return in
}

// Candidates returns the ordered, de-duplicated candidate list:
// hint, executable directory and its ancestors, bundle resources, then the
// working directory and its ancestors.
func (r *Resolver) Candidates(in Inputs) []Candidate {
	var out []Candidate
	seen := make(map[string]bool)
	add := func(dir string, src Source) {
		if dir == "" {
			return
		}
		dir = filepath.Clean(dir)
		if seen[dir] {
			return
		}
		seen[dir] = true
		out = append(out, Candidate{Dir: dir, Source: src})
	}

	add(in.Hint, SourceHint)
	if in.Executable != "" {
		exeDir := filepath.Dir(in.Executable)
		for _, d := range ancestors(exeDir, r.maxAncestors()) {
			add(d, SourceExe)
		}
		if r.Platform != nil {
			if res, ok := r.Platform.BundleResources(in.Executable); ok {
				add(res, SourceBundle)
			}
		}
	}
	if in.Cwd != "" {
		for _, d := range ancestors(in.Cwd, r.maxAncestors()) {
			add(d, SourceCwd)
		}
	}
	return out
}

// Resolve picks exactly one runtime root. It never fails: when no candidate
// qualifies it falls back to the hint, then the working directory.
func (r *Resolver) Resolve(in Inputs) Resolution {
	cands := r.Candidates(in)

	for pass, needPayload := range []bool{true, false} {
		for _, c := range cands {
			for _, dir := range r.probeDirs(c.Dir) {
				if !r.HasLaunchScripts(dir) {
					continue
				}
				if needPayload && !r.HasPayload(dir) {
					continue
				}
				return Resolution{Root: dir, Source: c.Source, Pass: pass + 1}
			}
		}
	}

	switch {
	case in.Hint != "":
		return Resolution{Root: filepath.Clean(in.Hint), Source: SourceFallback}
	case in.Cwd != "":
		return Resolution{Root: filepath.Clean(in.Cwd), Source: SourceFallback}
	default:
		return Resolution{Root: ".", Source: SourceFallback}
	}
}

// HasLaunchScripts reports whether the platform launcher exists directly in
// dir or under its resources/ or scripts/ child.
func (r *Resolver) HasLaunchScripts(dir string) bool {
	_, ok := FindScript(r.FS, dir, r.Platform.LauncherScript())
	return ok
}

// HasPayload reports whether dir holds the application payload directory.
func (r *Resolver) HasPayload(dir string) bool {
	return r.FS.IsDir(filepath.Join(dir, r.payloadDir()))
}

// FindScript looks for name in root, root/resources and root/scripts, in that order.
func FindScript(fs FS, root, name string) (string, bool) {
	for _, sub := range scriptDirs {
		p := filepath.Join(root, sub, name)
		if fs.Exists(p) {
			return p, true
		}
	}
	return "", false
}

func (r *Resolver) probeDirs(base string) []string {
	dirs := make([]string, 0, len(r.NestedDirs)+1)
	dirs = append(dirs, base)
	for _, n := range r.NestedDirs {
		dirs = append(dirs, filepath.Join(base, n))
	}
	return dirs
}

func (r *Resolver) payloadDir() string {
	if r.PayloadDir == "" {
		return DefaultPayloadDir
	}
	return r.PayloadDir
}

func (r *Resolver) maxAncestors() int {
	if r.MaxAncestors <= 0 {
		return DefaultMaxAncestors
	}
	return r.MaxAncestors
}

// ancestors returns dir followed by up to n of its parents, stopping at the
// filesystem root.
func ancestors(dir string, n int) []string {
	dir = filepath.Clean(dir)
	out := []string{dir}
	for i := 0; i < n; i++ {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		out = append(out, parent)
		dir = parent
	}
	return out
}
