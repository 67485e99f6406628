package report

import (
	"encoding/json"
	"fmt"
)

// jsonString marshals v as {"<Type>": <v>}, the same envelope its predecessor's
// manifest.jsonString used for its event types.
func jsonString(kind string, v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{%q: %q}`, kind, err.Error())
	}
	return fmt.Sprintf(`{%q: %s}`, kind, b)
}

// EventDownloading mirrors the Rust implementation's
// UiEvent::Progress{bytes_downloaded, total_bytes}.
type EventDownloading struct {
	Package string `json:"package"`
	Current int64  `json:"current"`
	Total   int64  `json:"total,omitempty"`
}

func (e EventDownloading) String() string { return jsonString("Downloading", e) }

// EventDone mirrors UiEvent::Done{status, size_bytes}.
type EventDone struct {
	Package   string `json:"package"`
	Version   string `json:"version"`
	SizeBytes int64  `json:"size_bytes"`
}

func (e EventDone) String() string { return jsonString("Done", e) }

// EventFailed mirrors UiEvent::Fail{error}.
type EventFailed struct {
	Package string `json:"package"`
	Error   string `json:"error"`
}

func (e EventFailed) String() string { return jsonString("Failed", e) }

// EventSummary mirrors UiEvent::Summary{count, action, elapsed_secs}.
type EventSummary struct {
	Action         string  `json:"action"`
	Count          int     `json:"count"`
	ElapsedSeconds float64 `json:"elapsed_secs"`
}

func (e EventSummary) String() string { return jsonString("Summary", e) }

// JSONReporter renders every event as a single-line JSON envelope via Emit.
// It is internally synchronized only insofar as Emit itself must be
// goroutine-safe; the default implementation below delegates to a
// caller-supplied sink function, which the CLI wires to a mutex-guarded
// writer.
type JSONReporter struct {
	Emit func(line string)
}

func (r JSONReporter) Planning(packages []string) {
	r.Emit(jsonString("Planning", map[string]any{"packages": packages}))
}

func (r JSONReporter) Resolving(pkg string) {
	r.Emit(jsonString("Resolving", map[string]string{"package": pkg}))
}

func (r JSONReporter) Downloading(pkg string, current, total int64) {
	r.Emit(EventDownloading{Package: pkg, Current: current, Total: total}.String())
}

func (r JSONReporter) Extracting(pkg string) {
	r.Emit(jsonString("Extracting", map[string]string{"package": pkg}))
}

func (r JSONReporter) Installing(pkg string) {
	r.Emit(jsonString("Installing", map[string]string{"package": pkg}))
}

func (r JSONReporter) Removing(pkg string) {
	r.Emit(jsonString("Removing", map[string]string{"package": pkg}))
}

func (r JSONReporter) Done(pkg, version string, sizeBytes int64) {
	r.Emit(EventDone{Package: pkg, Version: version, SizeBytes: sizeBytes}.String())
}

func (r JSONReporter) Failed(pkg string, err error) {
	r.Emit(EventFailed{Package: pkg, Error: err.Error()}.String())
}

func (r JSONReporter) Log(message string) {
	r.Emit(jsonString("Log", map[string]string{"message": message}))
}

func (r JSONReporter) Summary(action string, count int, elapsedSeconds float64) {
	r.Emit(EventSummary{Action: action, Count: count, ElapsedSeconds: elapsedSeconds}.String())
}

var _ Reporter = JSONReporter{}
