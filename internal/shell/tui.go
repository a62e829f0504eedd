package shell

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loykin/livuals/internal/launcher"
)

// stages in the order the launcher runs them.
var stages = []launcher.Stage{
	launcher.StageResolve,
	launcher.StageBootstrap,
	launcher.StageSpawn,
	launcher.StageProbe,
}

var stageLabels = map[launcher.Stage]string{
	launcher.StageResolve:   "Locating runtime",
	launcher.StageBootstrap: "Preparing environment",
	launcher.StageSpawn:     "Starting backend",
	launcher.StageProbe:     "Waiting for backend",
}

const tickInterval = 100 * time.Millisecond

// StageMsg reports that the launcher entered a stage.
type StageMsg launcher.Stage

// FailedMsg carries a failed launch event.
type FailedMsg launcher.Event

type (
	navigateMsg string
	showMsg     struct{}
	openedMsg   struct{ err error }
	tickMsg     time.Time
)

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// TUIConfig configures the terminal shell.
type TUIConfig struct {
	Title   string
	LogPath string
	// Open opens a URL in a browser; nil disables the "o" key.
	Open func(url string) error
	// AutoOpen opens the browser as soon as the backend is shown.
	AutoOpen bool
}

// Model is the bubbletea model of the launch progress screen.
type Model struct {
	title    string
	logPath  string
	open     func(string) error
	autoOpen bool

	current launcher.Stage
	url     string
	shown   bool
	failed  *launcher.Event
	notice  string

	startTime time.Time
	now       time.Time
	frame     int
	width     int
}

func NewModel(cfg TUIConfig) Model {
	title := cfg.Title
	if title == "" {
		title = launcher.DefaultTitle
	}
	now := time.Now()
	return Model{
		title:     title,
		logPath:   cfg.LogPath,
		open:      cfg.Open,
		autoOpen:  cfg.AutoOpen,
		startTime: now,
		now:       now,
		width:     80,
	}
}

func (m Model) Init() tea.Cmd { return tickCmd() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "o":
			if m.url != "" && m.open != nil {
				return m, openCmd(m.open, m.url)
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case StageMsg:
		m.current = launcher.Stage(msg)
	case navigateMsg:
		m.url = string(msg)
	case showMsg:
		m.shown = true
		if m.autoOpen && m.open != nil && m.url != "" {
			return m, openCmd(m.open, m.url)
		}
	case FailedMsg:
		ev := launcher.Event(msg)
		m.failed = &ev
		if ev.Stage != "" {
			m.current = ev.Stage
		}
	case openedMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("could not open browser: %v", msg.err)
		} else {
			m.notice = "opened in browser"
		}
	case tickMsg:
		m.now = time.Time(msg)
		if m.failed == nil && !m.shown {
			m.frame++
		}
		return m, tickCmd()
	}
	return m, nil
}

func openCmd(open func(string) error, url string) tea.Cmd {
	return func() tea.Msg { return openedMsg{err: open(url)} }
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("  ")
	b.WriteString(dimStyle.Render(m.elapsed().String()))
	b.WriteString("\n\n")

	cur := stageIndex(m.current)
	for i, s := range stages {
		var mark string
		switch {
		case m.ready() || i < cur:
			mark = statusOK.Render("✓")
		case i == cur && m.failed != nil:
			mark = statusError.Render("✗")
		case i == cur:
			mark = statusActive.Render(spinnerFrames[m.frame%len(spinnerFrames)])
		default:
			mark = dimStyle.Render("·")
		}
		fmt.Fprintf(&b, " %s %s\n", mark, stageLabels[s])
	}
	b.WriteString("\n")

	switch {
	case m.failed != nil:
		b.WriteString(statusError.Render(fmt.Sprintf("Launch failed at %s: %v", m.failed.Stage, m.failed.Err)))
		b.WriteString("\n")
		if m.logPath != "" {
			b.WriteString(mutedStyle.Render("Log: " + m.logPath))
			b.WriteString("\n")
		}
	case m.ready():
		b.WriteString(boxStyle.Render(statusOK.Render("Ready") + " " + m.url))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(mutedStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render(m.help()))
	b.WriteString("\n")
	return b.String()
}

func (m Model) ready() bool { return m.shown && m.url != "" }

func (m Model) help() string {
	if m.ready() && m.open != nil {
		return "o open in browser · q quit"
	}
	return "q quit"
}

func (m Model) elapsed() time.Duration {
	return m.now.Sub(m.startTime).Truncate(100 * time.Millisecond)
}

func stageIndex(s launcher.Stage) int {
	for i, st := range stages {
		if st == s {
			return i
		}
	}
	return -1
}

// TUI is a Shell backed by a bubbletea program. Its methods may be called
// from any goroutine; Run must be called from the goroutine owning the terminal.
type TUI struct {
	prog *tea.Program
}

func NewTUI(cfg TUIConfig, opts ...tea.ProgramOption) *TUI {
	return &TUI{prog: tea.NewProgram(NewModel(cfg), opts...)}
}

// Stage forwards launcher progress; suitable as Launcher.OnStage.
func (t *TUI) Stage(s launcher.Stage)   { t.prog.Send(StageMsg(s)) }
func (t *TUI) Navigate(url string)      { t.prog.Send(navigateMsg(url)) }
func (t *TUI) Show()                    { t.prog.Send(showMsg{}) }
func (t *TUI) Failed(ev launcher.Event) { t.prog.Send(FailedMsg(ev)) }

// Run blocks until the user quits.
func (t *TUI) Run() error {
	_, err := t.prog.Run()
	return err
}

func (t *TUI) Quit() { t.prog.Quit() }
