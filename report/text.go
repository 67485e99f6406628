package report

import (
	"fmt"
	"io"
	"sync"
)

// TextReporter renders events as plain human-readable lines, the default
// CLI output mode. Safe for concurrent use: every
// write is taken under mu.
type TextReporter struct {
	Out io.Writer

	mu sync.Mutex
}

func (r *TextReporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.Out, format, args...)
}

func (r *TextReporter) Planning(packages []string) {
	r.printf("Planning: %v\n", packages)
}

func (r *TextReporter) Resolving(pkg string) {
	r.printf("Resolving %s...\n", pkg)
}

func (r *TextReporter) Downloading(pkg string, current, total int64) {
	if total > 0 {
		r.printf("Downloading %s (%d/%d bytes)\n", pkg, current, total)
		return
	}
	r.printf("Downloading %s (%d bytes)\n", pkg, current)
}

func (r *TextReporter) Extracting(pkg string) {
	r.printf("Extracting %s...\n", pkg)
}

func (r *TextReporter) Installing(pkg string) {
	r.printf("Installing %s...\n", pkg)
}

func (r *TextReporter) Removing(pkg string) {
	r.printf("Removing %s...\n", pkg)
}

func (r *TextReporter) Done(pkg, version string, sizeBytes int64) {
	r.printf("Done: %s@%s (%d bytes)\n", pkg, version, sizeBytes)
}

func (r *TextReporter) Failed(pkg string, err error) {
	r.printf("Failed: %s: %v\n", pkg, err)
}

func (r *TextReporter) Log(message string) {
	r.printf("%s\n", message)
}

func (r *TextReporter) Summary(action string, count int, elapsedSeconds float64) {
	r.printf("%s %d package(s) in %.2fs\n", action, count, elapsedSeconds)
}

var _ Reporter = (*TextReporter)(nil)
