// Package shell hands the launch outcome to whatever owns the user's screen.
package shell

import (
	"fmt"
	"io"
	"sync"

	"github.com/loykin/livuals/internal/launcher"
	"github.com/loykin/livuals/internal/platform"
)

// Shell is the UI side of a launch. Navigate and Show are called on success,
// Failed otherwise; the window stays in its pre-launch state on failure.
type Shell interface {
	Navigate(url string)
	Show()
	Failed(ev launcher.Event)
}

// Deliver routes ev to sh.
func Deliver(sh Shell, ev launcher.Event) {
	if ev.Ready() {
		sh.Navigate(ev.URL)
		sh.Show()
		return
	}
	sh.Failed(ev)
}

// BrowserOpener returns a function opening a URL with the platform's default browser.
func BrowserOpener(p platform.PlatformOps) func(url string) error {
	return func(url string) error {
		return p.BrowserCommand(url).Run()
	}
}

// Console reports the outcome as text and optionally opens the browser.
type Console struct {
	Out     io.Writer
	Title   string
	LogPath string
	// Open, when set, is called with the URL on Show.
	Open func(url string) error

	mu  sync.Mutex
	url string
}

func (c *Console) Navigate(url string) {
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
}

func (c *Console) Show() {
	url := c.URL()
	if url == "" {
		return
	}
	_, _ = fmt.Fprintf(c.Out, "%s is ready at %s\n", c.title(), url)
	if c.Open == nil {
		return
	}
	if err := c.Open(url); err != nil {
		_, _ = fmt.Fprintf(c.Out, "could not open browser: %v\n", err)
	}
}

func (c *Console) Failed(ev launcher.Event) {
	_, _ = fmt.Fprintf(c.Out, "%s failed to start (%s): %v\n", c.title(), ev.Stage, ev.Err)
	if c.LogPath != "" {
		_, _ = fmt.Fprintf(c.Out, "details in %s\n", c.LogPath)
	}
}

// URL is the last address passed to Navigate.
func (c *Console) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

func (c *Console) title() string {
	if c.Title != "" {
		return c.Title
	}
	return launcher.DefaultTitle
}
