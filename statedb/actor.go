package statedb

import (
	"fmt"

	"github.com/aplpm/apl/ident"
)

// request carries one call into the actor's owning goroutine and a channel
// to deliver its single reply on. This is the same request/reply-over-a-
// channel shape as original_source/src/io/ui_actor.rs's UiActor, generalized
// from fire-and-forget events to synchronous calls since state-db readers
// need a result back.
type request struct {
	fn    func(*db) (any, error)
	reply chan result
}

type result struct {
	value any
	err   error
}

// Handle is the public, goroutine-safe entry point to the state database.
// All mutating operations — and, for simplicity and to sidestep the
// non-thread-safe driver entirely, all reads too — are serialized through
// a single goroutine that owns the *db. Construct with Open; release with
// Close.
type Handle struct {
	reqs chan request
	done chan struct{}
}

// Open creates or opens the sqlite-backed state database at path and starts
// its owning goroutine.
func Open(path string) (*Handle, error) {
	d, err := openDB(path)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		reqs: make(chan request),
		done: make(chan struct{}),
	}
	go h.run(d)
	return h, nil
}

func (h *Handle) run(d *db) {
	defer close(h.done)
	defer d.close()
	for req := range h.reqs {
		v, err := req.fn(d)
		req.reply <- result{value: v, err: err}
	}
}

// Close stops accepting new requests and waits for the goroutine to drain
// and release the underlying connection.
func (h *Handle) Close() error {
	close(h.reqs)
	<-h.done
	return nil
}

func (h *Handle) call(fn func(*db) (any, error)) (any, error) {
	reply := make(chan result, 1)
	h.reqs <- request{fn: fn, reply: reply}
	r := <-reply
	return r.value, r.err
}

func (h *Handle) GetPackage(name ident.Name) (Package, bool, error) {
	v, err := h.call(func(d *db) (any, error) {
		p, ok, err := d.getPackage(name)
		return packageResult{p, ok}, err
	})
	if err != nil {
		return Package{}, false, err
	}
	pr := v.(packageResult)
	return pr.p, pr.ok, nil
}

func (h *Handle) GetPackageVersion(name ident.Name, version string) (InstalledVersion, bool, error) {
	v, err := h.call(func(d *db) (any, error) {
		iv, ok, err := d.getPackageVersion(name, version)
		return versionResult{iv, ok}, err
	})
	if err != nil {
		return InstalledVersion{}, false, err
	}
	vr := v.(versionResult)
	return vr.v, vr.ok, nil
}

func (h *Handle) ListPackages() ([]Package, error) {
	v, err := h.call(func(d *db) (any, error) { return d.listPackages() })
	if err != nil {
		return nil, err
	}
	return v.([]Package), nil
}

func (h *Handle) ListPackageVersions(name ident.Name) ([]InstalledVersion, error) {
	v, err := h.call(func(d *db) (any, error) { return d.listPackageVersions(name) })
	if err != nil {
		return nil, err
	}
	return v.([]InstalledVersion), nil
}

func (h *Handle) GetPackageFiles(name ident.Name) ([]FileRow, error) {
	v, err := h.call(func(d *db) (any, error) { return d.getPackageFiles(name) })
	if err != nil {
		return nil, err
	}
	return v.([]FileRow), nil
}

func (h *Handle) InstallComplete(args InstallCompleteArgs) error {
	_, err := h.call(func(d *db) (any, error) { return nil, d.installComplete(args) })
	return err
}

func (h *Handle) AddHistory(name ident.Name, action Action, from, to string, tsMillis int64, success bool) error {
	_, err := h.call(func(d *db) (any, error) { return nil, d.addHistory(name, action, from, to, tsMillis, success) })
	return err
}

func (h *Handle) GetHistory(name ident.Name) ([]HistoryRow, error) {
	v, err := h.call(func(d *db) (any, error) { return d.getHistory(name) })
	if err != nil {
		return nil, err
	}
	return v.([]HistoryRow), nil
}

func (h *Handle) GetLastSuccessfulHistory(name ident.Name) (HistoryRow, bool, error) {
	v, err := h.call(func(d *db) (any, error) {
		hr, ok, err := d.getLastSuccessfulHistory(name)
		return historyResult{hr, ok}, err
	})
	if err != nil {
		return HistoryRow{}, false, err
	}
	hr := v.(historyResult)
	return hr.h, hr.ok, nil
}

// RemovePackage deletes the package's rows and returns the file paths the
// caller must unlink.
func (h *Handle) RemovePackage(name ident.Name) ([]string, error) {
	v, err := h.call(func(d *db) (any, error) { return d.removePackage(name) })
	if err != nil {
		return nil, err
	}
	paths, _ := v.([]string)
	return paths, nil
}

type packageResult struct {
	p  Package
	ok bool
}

type versionResult struct {
	v  InstalledVersion
	ok bool
}

type historyResult struct {
	h  HistoryRow
	ok bool
}

// ErrClosed names the closed-handle condition. No Handle method returns
// it: the install engine and CLI always Close after every other goroutine
// using the handle has finished.
var ErrClosed = fmt.Errorf("statedb: handle closed")
