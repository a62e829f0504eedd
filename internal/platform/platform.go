// Package platform isolates every OS-conditional detail of the launcher behind
// one capability interface, selected once at startup.
package platform

import (
	"context"
	"os/exec"
	"runtime"
)

// PlatformOps describes where the launcher finds things and how it runs
// scripts on a given operating system.
type PlatformOps interface {
	// Name is the GOOS value this variant serves.
	Name() string
	// LauncherScript is the basename of the script that starts the backend.
	LauncherScript() string
	// InstallerScript is the basename of the first-run installer.
	InstallerScript() string
	// EnvMarker is the root-relative path whose presence means the backend
	// environment is installed.
	EnvMarker() string
	// BundleResources returns the resources directory of an application
	// bundle containing exe, when the platform nests executables that way.
	BundleResources(exe string) (string, bool)
	// LogDir returns the per-user log directory; getenv is usually os.Getenv.
	LogDir(app string, getenv func(string) string) string
	// ScriptCommand builds a command that runs script.
	ScriptCommand(ctx context.Context, script string) *exec.Cmd
	// BrowserCommand builds a command that opens url in the default browser.
	BrowserCommand(url string) *exec.Cmd
	// NeedsExecBit reports whether scripts must be chmod +x before running.
	NeedsExecBit() bool
}

// Current returns the variant for the running OS.
func Current() PlatformOps { return ForOS(runtime.GOOS) }

// ForOS returns the variant for goos. Unknown unix-likes get the linux variant.
func ForOS(goos string) PlatformOps {
	switch goos {
	case "darwin":
		return darwin{}
	case "windows":
		return windows{}
	default:
		return linux{goos: goos}
	}
}
