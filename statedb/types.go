package statedb

import "github.com/aplpm/apl/ident"

// FileKind distinguishes how a tracked file under the bin farm or an app
// bundle should be removed/reconciled.
type FileKind string

const (
	KindFile      FileKind = "FILE"
	KindSymlink   FileKind = "SYMLINK"
	KindAppBundle FileKind = "APP_BUNDLE"
)

// Action is a history journal action kind.
type Action string

const (
	ActionInstall  Action = "install"
	ActionSwitch   Action = "switch"
	ActionRemove   Action = "remove"
	ActionRollback Action = "rollback"
)

// Package is the active-row view joined from the packages table.
type Package struct {
	Name          ident.Name
	Description   string
	Type          string
	ActiveVersion string
}

// InstalledVersion is one row of installed_versions.
type InstalledVersion struct {
	Name        ident.Name
	Version     string
	SHA256      ident.Sha256Digest
	SizeBytes   int64
	InstalledAt int64
	Active      bool
}

// FileRow is one row of files: a path owned by the active version of a
// package.
type FileRow struct {
	Name    ident.Name
	Version string
	Path    string
	Kind    FileKind
}

// HistoryRow is one append-only journal entry.
type HistoryRow struct {
	ID          int64
	TsMillis    int64
	Action      Action
	Package     ident.Name
	VersionFrom string // empty means none
	VersionTo   string // empty means none
	Success     bool
}

// InstallCompleteArgs bundles the arguments to InstallComplete, which is
// always a single ACID transaction that upserts the package and version
// rows, flips the active flag, and replaces the files rows for the
// package.
type InstallCompleteArgs struct {
	Name        ident.Name
	Description string
	Type        string
	Version     string
	SHA256      ident.Sha256Digest
	SizeBytes   int64
	InstalledAt int64
	ActiveFiles []FileRow
}
