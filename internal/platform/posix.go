package platform

import (
	"context"
	"os/exec"
	"path"
	"strings"
)

const unixMarker = "StreamDiffusion/venv/bin/python"

type darwin struct{}

func (darwin) Name() string            { return "darwin" }
func (darwin) LauncherScript() string  { return "runlivuals_macos.sh" }
func (darwin) InstallerScript() string { return "install_macos.sh" }
func (darwin) EnvMarker() string       { return unixMarker }
func (darwin) NeedsExecBit() bool      { return true }

// BundleResources maps Foo.app/Contents/MacOS/foo to Foo.app/Contents/Resources.
func (darwin) BundleResources(exe string) (string, bool) {
	if exe == "" {
		return "", false
	}
	contents := path.Dir(path.Dir(exe))
	return path.Join(contents, "Resources"), true
}

func (darwin) LogDir(app string, getenv func(string) string) string {
	if home := getenv("HOME"); home != "" {
		return path.Join(home, "Library", "Logs", app)
	}
	return path.Join("/tmp", app)
}

func (darwin) ScriptCommand(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204 -- script is resolved from the runtime root
	return exec.CommandContext(ctx, "/bin/bash", script)
}

func (darwin) BrowserCommand(url string) *exec.Cmd {
	// #nosec G204 -- url is the local backend address
	return exec.Command("open", url)
}

type linux struct{ goos string }

func (l linux) Name() string {
	if l.goos == "" {
		return "linux"
	}
	return l.goos
}
func (linux) LauncherScript() string                { return "runlivuals_linux.sh" }
func (linux) InstallerScript() string               { return "install_linux.sh" }
func (linux) EnvMarker() string                     { return unixMarker }
func (linux) NeedsExecBit() bool                    { return true }
func (linux) BundleResources(string) (string, bool) { return "", false }

// LogDir follows the XDG base directory spec for state data.
func (linux) LogDir(app string, getenv func(string) string) string {
	if state := getenv("XDG_STATE_HOME"); state != "" {
		return path.Join(state, strings.ToLower(app), "logs")
	}
	if home := getenv("HOME"); home != "" {
		return path.Join(home, ".local", "state", strings.ToLower(app), "logs")
	}
	return path.Join("/tmp", app)
}

func (linux) ScriptCommand(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204 -- script is resolved from the runtime root
	return exec.CommandContext(ctx, "/bin/bash", script)
}

func (linux) BrowserCommand(url string) *exec.Cmd {
	// #nosec G204 -- url is the local backend address
	return exec.Command("xdg-open", url)
}
