package resolver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/livuals/internal/platform"
)

// fakeFS is an in-memory tree: every registered path implies its parents.
type fakeFS struct {
	files map[string]bool
	dirs  map[string]bool
	calls int
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: map[string]bool{}, dirs: map[string]bool{}}
}

func (f *fakeFS) file(p string) *fakeFS {
	p = filepath.Clean(p)
	f.files[p] = true
	f.dir(filepath.Dir(p))
	return f
}

func (f *fakeFS) dir(p string) *fakeFS {
	for p = filepath.Clean(p); ; p = filepath.Dir(p) {
		f.dirs[p] = true
		if filepath.Dir(p) == p {
			break
		}
	}
	return f
}

func (f *fakeFS) Exists(p string) bool {
	f.calls++
	p = filepath.Clean(p)
	return f.files[p] || f.dirs[p]
}

func (f *fakeFS) IsDir(p string) bool {
	f.calls++
	return f.dirs[filepath.Clean(p)]
}

const launcher = "runlivuals_linux.sh"

func newTestResolver(fs FS, goos string) *Resolver {
	r := New(platform.ForOS(goos))
	r.FS = fs
	return r
}

// root adds launcher scripts and payload to dir.
func (f *fakeFS) root(dir string) *fakeFS {
	return f.file(filepath.Join(dir, launcher)).dir(filepath.Join(dir, DefaultPayloadDir))
}

func TestResolve_FallbackToCwdWhenNothingQualifies(t *testing.T) {
	fs := newFakeFS().dir("/home/u/empty")
	r := newTestResolver(fs, "linux")
	res := r.Resolve(Inputs{Executable: "/opt/app/bin/livuals", Cwd: "/home/u/empty"})
	if res.Root != "/home/u/empty" || res.Source != SourceFallback || res.Pass != 0 {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestResolve_FallbackPrefersHint(t *testing.T) {
	r := newTestResolver(newFakeFS(), "linux")
	res := r.Resolve(Inputs{Hint: "/bundle/res/", Cwd: "/home/u"})
	if res.Root != "/bundle/res" || res.Source != SourceFallback {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestResolve_FallbackDotWithoutInputs(t *testing.T) {
	r := newTestResolver(newFakeFS(), "linux")
	if res := r.Resolve(Inputs{}); res.Root != "." {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestResolve_PriorityOrder(t *testing.T) {
	fs := newFakeFS().
		root("/hint").
		root("/opt/app").
		root("/work/repo")
	r := newTestResolver(fs, "linux")
	in := Inputs{Hint: "/hint", Executable: "/opt/app/bin/livuals", Cwd: "/work/repo/sub"}

	if res := r.Resolve(in); res.Root != "/hint" || res.Source != SourceHint || res.Pass != 1 {
		t.Fatalf("hint should win: %+v", res)
	}
	in.Hint = ""
	if res := r.Resolve(in); res.Root != "/opt/app" || res.Source != SourceExe {
		t.Fatalf("executable ancestor should win over cwd: %+v", res)
	}
	in.Executable = ""
	if res := r.Resolve(in); res.Root != "/work/repo" || res.Source != SourceCwd {
		t.Fatalf("cwd ancestor expected: %+v", res)
	}
}

func TestResolve_BundleResourcesBeforeCwd(t *testing.T) {
	exe := "/Applications/Livuals.app/Contents/MacOS/livuals"
	res := "/Applications/Livuals.app/Contents/Resources"
	fs := newFakeFS().
		file(filepath.Join(res, "runlivuals_macos.sh")).dir(filepath.Join(res, DefaultPayloadDir)).
		file("/Users/u/dev/runlivuals_macos.sh").dir("/Users/u/dev/livuals")
	r := newTestResolver(fs, "darwin")
	got := r.Resolve(Inputs{Executable: exe, Cwd: "/Users/u/dev"})
	// Contents/ is an exe ancestor and its resources/ nested dir would match
	// first on a case-insensitive FS; the fake is case-sensitive.
	if got.Root != res || got.Source != SourceBundle {
		t.Fatalf("bundle resources expected: %+v", got)
	}
}

func TestResolve_NestedDirs(t *testing.T) {
	fs := newFakeFS().root("/repo/iaarabes")
	r := newTestResolver(fs, "linux")
	got := r.Resolve(Inputs{Cwd: "/repo"})
	if got.Root != "/repo/iaarabes" || got.Pass != 1 {
		t.Fatalf("nested iaarabes expected: %+v", got)
	}

	fs = newFakeFS().root("/pkg/resources")
	r = newTestResolver(fs, "linux")
	got = r.Resolve(Inputs{Hint: "/pkg"})
	if got.Root != "/pkg/resources" || got.Source != SourceHint {
		t.Fatalf("nested resources expected: %+v", got)
	}
}

func TestResolve_ScriptsOnlyIsSecondPass(t *testing.T) {
	// Scripts-only directory appears earlier than a full root; the full root must win.
	fs := newFakeFS().
		file("/opt/app/scripts/" + launcher).
		root("/work/repo")
	r := newTestResolver(fs, "linux")
	got := r.Resolve(Inputs{Executable: "/opt/app/livuals", Cwd: "/work/repo"})
	if got.Root != "/work/repo" || got.Pass != 1 {
		t.Fatalf("full root should beat scripts-only: %+v", got)
	}

	fs = newFakeFS().file("/opt/app/scripts/" + launcher)
	r = newTestResolver(fs, "linux")
	got = r.Resolve(Inputs{Executable: "/opt/app/livuals", Cwd: "/elsewhere"})
	if got.Root != "/opt/app" || got.Pass != 2 {
		t.Fatalf("scripts-only root expected on pass 2: %+v", got)
	}
}

func TestResolve_PayloadWithoutScriptsNeverQualifies(t *testing.T) {
	fs := newFakeFS().dir("/opt/app/livuals")
	r := newTestResolver(fs, "linux")
	got := r.Resolve(Inputs{Executable: "/opt/app/livuals-bin", Cwd: "/c"})
	if got.Source != SourceFallback || got.Root != "/c" {
		t.Fatalf("payload alone must not qualify: %+v", got)
	}
}

func TestResolve_OtherPlatformScriptsIgnored(t *testing.T) {
	fs := newFakeFS().file("/r/runlivuals.bat").dir("/r/livuals")
	r := newTestResolver(fs, "linux")
	if got := r.Resolve(Inputs{Cwd: "/r"}); got.Source != SourceFallback {
		t.Fatalf("windows launcher must not satisfy linux: %+v", got)
	}
	r = newTestResolver(fs, "windows")
	if got := r.Resolve(Inputs{Cwd: "/r"}); got.Root != "/r" || got.Pass != 1 {
		t.Fatalf("windows launcher expected: %+v", got)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	fs := newFakeFS().root("/a/b").file("/x/" + launcher)
	r := newTestResolver(fs, "linux")
	in := Inputs{Executable: "/a/b/c/d/exe", Cwd: "/x"}
	first := r.Resolve(in)
	for i := 0; i < 5; i++ {
		if got := r.Resolve(in); got != first {
			t.Fatalf("resolution changed: %+v vs %+v", got, first)
		}
	}
}

func TestCandidates_OrderAndDepth(t *testing.T) {
	r := newTestResolver(newFakeFS(), "darwin")
	r.MaxAncestors = 2
	c := r.Candidates(Inputs{
		Hint:       "/h",
		Executable: "/A.app/Contents/MacOS/exe",
		Cwd:        "/w/x/y/z",
	})
	var got []string
	for _, x := range c {
		got = append(got, string(x.Source)+":"+x.Dir)
	}
	want := []string{
		"hint:/h",
		"exe:/A.app/Contents/MacOS",
		"exe:/A.app/Contents",
		"exe:/A.app",
		"bundle:/A.app/Contents/Resources",
		"cwd:/w/x/y/z",
		"cwd:/w/x/y",
		"cwd:/w/x",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("candidates\n got: %v\nwant: %v", got, want)
	}
}

func TestCandidates_StopAtRootAndDedupe(t *testing.T) {
	r := newTestResolver(newFakeFS(), "linux")
	c := r.Candidates(Inputs{Executable: "/a/exe", Cwd: "/a"})
	if len(c) != 2 || c[0].Dir != "/a" || c[1].Dir != "/" {
		t.Fatalf("unexpected candidates %+v", c)
	}
}

func TestCandidates_DefaultDepthIs16Parents(t *testing.T) {
	deep := "/" + strings.Repeat("d/", 30) + "exe"
	r := newTestResolver(newFakeFS(), "linux")
	c := r.Candidates(Inputs{Executable: deep})
	if len(c) != 1+DefaultMaxAncestors {
		t.Fatalf("expected dir + %d parents, got %d", DefaultMaxAncestors, len(c))
	}
}

func TestResolve_AnyQualifyingCandidateIsReturned(t *testing.T) {
	// Property: whenever some candidate fully qualifies, the result is not a fallback.
	dirs := []string{"/h", "/e/1", "/e", "/c/1/2", "/c/1", "/c"}
	for i, d := range dirs {
		fs := newFakeFS().root(d)
		r := newTestResolver(fs, "linux")
		got := r.Resolve(Inputs{Hint: "/h", Executable: "/e/1/exe", Cwd: "/c/1/2"})
		if got.Source == SourceFallback || got.Root != d {
			t.Fatalf("case %d: expected %s, got %+v", i, d, got)
		}
	}
}

func TestFindScript_Order(t *testing.T) {
	fs := newFakeFS().file("/r/scripts/s.sh").file("/r/resources/s.sh")
	p, ok := FindScript(fs, "/r", "s.sh")
	if !ok || p != "/r/resources/s.sh" {
		t.Fatalf("resources/ should be preferred over scripts/: %q %v", p, ok)
	}
	fs.file("/r/s.sh")
	if p, _ = FindScript(fs, "/r", "s.sh"); p != "/r/s.sh" {
		t.Fatalf("direct script should be preferred: %q", p)
	}
	if _, ok := FindScript(fs, "/none", "s.sh"); ok {
		t.Fatalf("unexpected hit")
	}
}

func TestResolve_RealFilesystem(t *testing.T) {
	if os.PathSeparator != '/' {
		t.Skip("unix layout test")
	}
	base := t.TempDir()
	root := filepath.Join(base, "install")
	if err := os.MkdirAll(filepath.Join(root, "livuals"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "scripts", launcher), []byte("#!/bin/bash\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	r := New(platform.ForOS("linux"))
	got := r.Resolve(Inputs{Executable: filepath.Join(root, "bin", "livuals"), Cwd: base})
	if got.Root != root || got.Source != SourceExe || got.Pass != 1 {
		t.Fatalf("unexpected resolution %+v", got)
	}
}
