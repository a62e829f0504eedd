package platform

import (
	"context"
	"os/exec"
	"strings"
)

type windows struct{}

func (windows) Name() string                          { return "windows" }
func (windows) LauncherScript() string                { return "runlivuals.bat" }
func (windows) InstallerScript() string               { return "install.bat" }
func (windows) EnvMarker() string                     { return `StreamDiffusion\venv\Scripts\python.exe` }
func (windows) NeedsExecBit() bool                    { return false }
func (windows) BundleResources(string) (string, bool) { return "", false }

func (windows) LogDir(app string, getenv func(string) string) string {
	if base := getenv("LOCALAPPDATA"); base != "" {
		return strings.TrimRight(base, `\`) + `\` + app + `\logs`
	}
	return `.\logs`
}

func (windows) ScriptCommand(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204 -- script is resolved from the runtime root
	return exec.CommandContext(ctx, "cmd", "/C", script)
}

func (windows) BrowserCommand(url string) *exec.Cmd {
	// #nosec G204 -- url is the local backend address
	return exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
}
