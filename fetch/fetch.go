// Package fetch streams artifact bytes over HTTP(S) into a destination
// file, retrying transient failures with backoff and reporting progress at
// a bounded rate. Grounded on original_source/src/io/download.rs
// (download_with_progress/download_and_verify), adapted from futures/tokio
// streaming to a plain io.Copy-shaped loop over net/http, matching its
// predecessor's preference for stdlib HTTP client usage (apt/apt.go,
// github/github.go) over a third-party HTTP library.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/aplpm/apl/report"
)

// Error distinguishes the download failure kinds a caller needs to branch
// on: transient network errors, HTTP status classes, and truncated bodies.
type Error struct {
	Kind string // "network" | "http_status_4xx" | "http_status_5xx" | "truncated" | "io"
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("fetch: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Client streams one artifact at a time; it is safe for concurrent use by
// multiple packages' goroutines.
type Client struct {
	HTTP *http.Client

	// MaxRetries bounds the retry-with-backoff loop for transient failures
	// (connection reset, 5xx, timeout). 4xx responses are never retried.
	MaxRetries int
	// BaseBackoff is the initial exponential backoff delay.
	BaseBackoff time.Duration
	// ProgressEvery bounds how often Downloading is reported, by byte count
	// rather than wall-clock to stay allocation-free.
	ProgressEvery int64
}

// NewClient returns a Client configured with a bounded idle-connection pool
// per host and the given response-header timeout (operator-configurable
// via Config.HTTPTimeoutSecs; a timeout <= 0 falls back to 30s).
func NewClient(responseTimeout time.Duration) *Client {
	if responseTimeout <= 0 {
		responseTimeout = 30 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: responseTimeout,
	}
	return &Client{
		HTTP:          &http.Client{Transport: transport},
		MaxRetries:    5,
		BaseBackoff:   250 * time.Millisecond,
		ProgressEvery: 256 * 1024,
	}
}

// Download streams url into destPath, reporting progress to reporter for
// pkg. It returns the total bytes written. On any error the partial
// destination file is removed.
func (c *Client) Download(ctx context.Context, url, destPath, pkg string, reporter report.Reporter) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.BaseBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}

		n, err := c.attempt(ctx, url, destPath, pkg, reporter)
		if err == nil {
			return n, nil
		}

		var fe *Error
		if errors.As(err, &fe) && fe.Kind == "http_status_4xx" {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (c *Client) attempt(ctx context.Context, url, destPath, pkg string, reporter report.Reporter) (n int64, retErr error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &Error{Kind: "network", Err: err}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, &Error{Kind: "network", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return 0, &Error{Kind: "http_status_4xx", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 500 {
		return 0, &Error{Kind: "http_status_5xx", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &Error{Kind: "http_status", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, &Error{Kind: "io", Err: err}
	}
	defer func() {
		out.Close()
		if retErr != nil {
			os.Remove(destPath)
		}
	}()

	total := resp.ContentLength // -1 when unknown
	pr := &progressWriter{out: out, pkg: pkg, total: total, every: c.ProgressEvery, reporter: reporter}
	written, err := io.Copy(pr, resp.Body)
	if err != nil {
		return 0, &Error{Kind: "io", Err: err}
	}
	if total > 0 && written != total {
		return 0, &Error{Kind: "truncated", Err: fmt.Errorf("expected %d bytes, got %d", total, written)}
	}
	return written, nil
}

// progressWriter wraps the destination file, counting bytes and reporting
// at a bounded rate.
type progressWriter struct {
	out      io.Writer
	pkg      string
	total    int64
	every    int64
	reporter report.Reporter
	written  int64
	lastTick int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.out.Write(b)
	p.written += int64(n)
	if p.reporter != nil && (p.written-p.lastTick >= p.every || err != nil) {
		p.lastTick = p.written
		total := p.total
		if total < 0 {
			total = 0
		}
		p.reporter.Downloading(p.pkg, p.written, total)
	}
	return n, err
}
