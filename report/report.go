// Package report defines the abstract progress/status sink consumed by the
// install engine and the build sandbox. The core never assumes anything
// about how events are rendered; a Reporter is write-only and must be safe
// to call from many concurrent goroutines.
//
// This generalizes its predecessor's manifest.Listener func(fmt.Stringer)
// pattern (one event type per notable occurrence, each with a String()
// method) into a proper interface with one method per phase, matching the
// shape of the Rust implementation's UiEvent enum
// (original_source/src/io/ui_actor.rs).
package report

import "fmt"

// Reporter receives events over the lifetime of an install/remove/switch
// operation. Implementations must be goroutine-safe: the install engine
// calls Resolving/Downloading/Extracting/Installing, and Failed for fetch,
// extract or store-commit failures, from multiple packages' goroutines
// concurrently; only its activation pass, which calls Done and the
// remaining Failed events, runs sequentially.
type Reporter interface {
	// Planning announces the packages and versions about to be processed.
	Planning(packages []string)
	// Resolving announces per-package dependency resolution has started.
	Resolving(pkg string)
	// Downloading reports fetch progress. total is 0 when unknown.
	Downloading(pkg string, current, total int64)
	// Extracting announces archive extraction has started.
	Extracting(pkg string)
	// Installing announces the store commit + activation phase.
	Installing(pkg string)
	// Removing announces file removal for a package.
	Removing(pkg string)
	// Done announces a package reached a terminal success state.
	Done(pkg, version string, sizeBytes int64)
	// Failed announces a package reached a terminal failure state.
	Failed(pkg string, err error)
	// Log emits a free-form diagnostic line.
	Log(message string)
	// Summary announces the outcome of a whole operation.
	Summary(action string, count int, elapsedSeconds float64)
}

// Event is implemented by every concrete event struct so Reporter
// implementations that want a single dispatch point (e.g. JSON output) can
// type-switch or just call String().
type Event interface {
	fmt.Stringer
}

// Null is a Reporter that discards every event. Used by tests and by
// non-interactive callers of the core API that don't want progress output.
type Null struct{}

func (Null) Planning([]string)                    {}
func (Null) Resolving(string)                      {}
func (Null) Downloading(string, int64, int64)      {}
func (Null) Extracting(string)                     {}
func (Null) Installing(string)                     {}
func (Null) Removing(string)                       {}
func (Null) Done(string, string, int64)            {}
func (Null) Failed(string, error)                  {}
func (Null) Log(string)                            {}
func (Null) Summary(string, int, float64)          {}

var _ Reporter = Null{}
