// Package probe implements a coarse liveness check: something must answer
// HTTP with a 200 status line on the backend's port. It deliberately does not
// depend on the backend's API beyond a single status path.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	DefaultConnectTimeout = 800 * time.Millisecond
	DefaultIOTimeout      = 800 * time.Millisecond
	DefaultBackoff        = 500 * time.Millisecond
	DefaultReadBytes      = 64
	DefaultStatusPath     = "/api/status"
)

// ErrNotReady is returned by Check when the endpoint answered without a 200 status line.
var ErrNotReady = errors.New("backend not ready")

// Prober polls a fixed local endpoint.
type Prober struct {
	Addr           string // host:port
	Path           string
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	Backoff        time.Duration
	ReadBytes      int
	// OnAttempt, when set, is called after every attempt with its outcome.
	OnAttempt func(err error)
}

func New(host string, port int) *Prober {
	return &Prober{
		Addr:           net.JoinHostPort(host, strconv.Itoa(port)),
		Path:           DefaultStatusPath,
		ConnectTimeout: DefaultConnectTimeout,
		IOTimeout:      DefaultIOTimeout,
		Backoff:        DefaultBackoff,
		ReadBytes:      DefaultReadBytes,
	}
}

// WaitReady polls until a check succeeds, timeout elapses or ctx is done.
func (p *Prober) WaitReady(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		err := p.Check(ctx)
		if p.OnAttempt != nil {
			p.OnAttempt(err)
		}
		if err == nil {
			return true
		}
		t := time.NewTimer(p.backoff())
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// Check performs one attempt. Per-attempt timeouts are clipped to ctx's deadline.
func (p *Prober) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := net.Dialer{Timeout: p.connectTimeout()}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", p.Addr, err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(p.ioTimeout())
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := io.WriteString(conn, p.request()); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	buf := make([]byte, p.readBytes())
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("read response: %w", err)
	}
	if !StatusOK(buf[:n]) {
		return fmt.Errorf("%w: %q", ErrNotReady, firstLine(buf[:n]))
	}
	return nil
}

// StatusOK reports whether the start of an HTTP response carries a 200 status.
func StatusOK(b []byte) bool {
	return bytes.Contains(b, []byte(" 200 ")) ||
		bytes.HasPrefix(b, []byte("HTTP/1.1 200")) ||
		bytes.HasPrefix(b, []byte("HTTP/1.0 200"))
}

func (p *Prober) request() string {
	host, _, err := net.SplitHostPort(p.Addr)
	if err != nil {
		host = p.Addr
	}
	path := p.Path
	if path == "" {
		path = DefaultStatusPath
	}
	return "GET " + path + " HTTP/1.1\r\nHost: " + host + "\r\nConnection: close\r\n\r\n"
}

func firstLine(b []byte) string {
	if i := bytes.IndexAny(b, "\r\n"); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (p *Prober) connectTimeout() time.Duration {
	if p.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return p.ConnectTimeout
}

func (p *Prober) ioTimeout() time.Duration {
	if p.IOTimeout <= 0 {
		return DefaultIOTimeout
	}
	return p.IOTimeout
}

func (p *Prober) backoff() time.Duration {
	if p.Backoff <= 0 {
		return DefaultBackoff
	}
	return p.Backoff
}

func (p *Prober) readBytes() int {
	if p.ReadBytes <= 0 {
		return DefaultReadBytes
	}
	return p.ReadBytes
}
