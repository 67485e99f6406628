// Package statedb is the ACID record of installed packages, active
// versions, tracked files and the history journal. It is the sole source
// of truth for "what is installed and active".
//
// mattn/go-sqlite3's driver is not safe for concurrent use from multiple
// goroutines on overlapping transactions; rather than add coarse-grained
// locking around every call site, the DB is hoisted into a single-owner
// actor (actor.go) that serves requests off a channel, exactly as
// original_source/src/io/ui_actor.rs does for its UI sink. The
// message-queue shape (buffered signal channel, FIFO ordering) is
// grounded on roach88-nysm/brutalist/internal/engine/queue.go's
// eventQueue.
package statedb

import (
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aplpm/apl/ident"
)

// db is the unexported low-level handle. Every method here assumes it is
// only ever called from the actor's owning goroutine.
type db struct {
	conn *sql.DB
}

func openDB(path string) (*db, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}
	// mattn/go-sqlite3 connections are not safe for concurrent statements;
	// the actor already guarantees single-goroutine access, but pinning the
	// pool to one connection makes that invariant explicit at the driver
	// level too.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("statedb: apply schema: %w", err)
	}
	return &db{conn: conn}, nil
}

func (d *db) close() error { return d.conn.Close() }

func (d *db) getPackage(name ident.Name) (Package, bool, error) {
	row := d.conn.QueryRow(`SELECT name, description, type, active_version FROM packages WHERE name = ?`, string(name))
	var p Package
	var n, typ, active string
	if err := row.Scan(&n, &p.Description, &typ, &active); err != nil {
		if err == sql.ErrNoRows {
			return Package{}, false, nil
		}
		return Package{}, false, fmt.Errorf("statedb: get_package: %w", err)
	}
	p.Name, p.Type, p.ActiveVersion = ident.Name(n), typ, active
	return p, true, nil
}

func (d *db) getPackageVersion(name ident.Name, version string) (InstalledVersion, bool, error) {
	row := d.conn.QueryRow(`SELECT name, version, sha256, size_bytes, installed_at, active
		FROM installed_versions WHERE name = ? AND version = ?`, string(name), version)
	var v InstalledVersion
	var n, sha string
	var active int
	if err := row.Scan(&n, &v.Version, &sha, &v.SizeBytes, &v.InstalledAt, &active); err != nil {
		if err == sql.ErrNoRows {
			return InstalledVersion{}, false, nil
		}
		return InstalledVersion{}, false, fmt.Errorf("statedb: get_package_version: %w", err)
	}
	v.Name, v.SHA256, v.Active = ident.Name(n), ident.Sha256Digest(sha), active != 0
	return v, true, nil
}

func (d *db) listPackages() ([]Package, error) {
	rows, err := d.conn.Query(`SELECT name, description, type, active_version FROM packages ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("statedb: list_packages: %w", err)
	}
	defer rows.Close()
	var out []Package
	for rows.Next() {
		var p Package
		var n, typ, active string
		if err := rows.Scan(&n, &p.Description, &typ, &active); err != nil {
			return nil, err
		}
		p.Name, p.Type, p.ActiveVersion = ident.Name(n), typ, active
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *db) listPackageVersions(name ident.Name) ([]InstalledVersion, error) {
	rows, err := d.conn.Query(`SELECT name, version, sha256, size_bytes, installed_at, active
		FROM installed_versions WHERE name = ? ORDER BY installed_at DESC`, string(name))
	if err != nil {
		return nil, fmt.Errorf("statedb: list_package_versions: %w", err)
	}
	defer rows.Close()
	var out []InstalledVersion
	for rows.Next() {
		var v InstalledVersion
		var n, sha string
		var active int
		if err := rows.Scan(&n, &v.Version, &sha, &v.SizeBytes, &v.InstalledAt, &active); err != nil {
			return nil, err
		}
		v.Name, v.SHA256, v.Active = ident.Name(n), ident.Sha256Digest(sha), active != 0
		out = append(out, v)
	}
	return out, rows.Err()
}

func (d *db) getPackageFiles(name ident.Name) ([]FileRow, error) {
	rows, err := d.conn.Query(`SELECT name, version, path, kind FROM files WHERE name = ? ORDER BY path`, string(name))
	if err != nil {
		return nil, fmt.Errorf("statedb: get_package_files: %w", err)
	}
	defer rows.Close()
	var out []FileRow
	for rows.Next() {
		var f FileRow
		var n, kind string
		if err := rows.Scan(&n, &f.Version, &f.Path, &kind); err != nil {
			return nil, err
		}
		f.Name, f.Kind = ident.Name(n), FileKind(kind)
		out = append(out, f)
	}
	return out, rows.Err()
}

// installComplete is a single ACID transaction: upsert packages and
// installed_versions, flip the active flag across all of this package's
// rows, and replace the files rows for the package.
func (d *db) installComplete(args InstallCompleteArgs) (err error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("statedb: install_complete: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`INSERT INTO packages(name, description, type, active_version) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET description = excluded.description, type = excluded.type, active_version = excluded.active_version`,
		string(args.Name), args.Description, args.Type, args.Version); err != nil {
		return fmt.Errorf("upsert packages: %w", err)
	}

	if _, err = tx.Exec(`INSERT INTO installed_versions(name, version, sha256, size_bytes, installed_at, active)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(name, version) DO UPDATE SET sha256 = excluded.sha256, size_bytes = excluded.size_bytes, active = 1`,
		string(args.Name), args.Version, string(args.SHA256), args.SizeBytes, args.InstalledAt); err != nil {
		return fmt.Errorf("upsert installed_versions: %w", err)
	}

	if _, err = tx.Exec(`UPDATE installed_versions SET active = 0 WHERE name = ? AND version != ?`,
		string(args.Name), args.Version); err != nil {
		return fmt.Errorf("deactivate other versions: %w", err)
	}

	if _, err = tx.Exec(`DELETE FROM files WHERE name = ?`, string(args.Name)); err != nil {
		return fmt.Errorf("clear files: %w", err)
	}
	for _, f := range args.ActiveFiles {
		if _, err = tx.Exec(`INSERT INTO files(name, version, path, kind) VALUES (?, ?, ?, ?)`,
			string(args.Name), args.Version, f.Path, string(f.Kind)); err != nil {
			return fmt.Errorf("insert file %s: %w", f.Path, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("statedb: install_complete: commit: %w", err)
	}
	return nil
}

func (d *db) addHistory(name ident.Name, action Action, from, to string, tsMillis int64, success bool) error {
	var fromVal, toVal any
	if from != "" {
		fromVal = from
	}
	if to != "" {
		toVal = to
	}
	_, err := d.conn.Exec(`INSERT INTO history(ts_ms, action, package, version_from, version_to, success)
		VALUES (?, ?, ?, ?, ?, ?)`, tsMillis, string(action), string(name), fromVal, toVal, boolToInt(success))
	if err != nil {
		return fmt.Errorf("statedb: add_history: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (d *db) getHistory(name ident.Name) ([]HistoryRow, error) {
	rows, err := d.conn.Query(`SELECT id, ts_ms, action, package, version_from, version_to, success
		FROM history WHERE package = ? ORDER BY ts_ms DESC, id DESC`, string(name))
	if err != nil {
		return nil, fmt.Errorf("statedb: get_history: %w", err)
	}
	defer rows.Close()
	return scanHistory(rows)
}

func (d *db) getLastSuccessfulHistory(name ident.Name) (HistoryRow, bool, error) {
	row := d.conn.QueryRow(`SELECT id, ts_ms, action, package, version_from, version_to, success
		FROM history WHERE package = ? AND success = 1 ORDER BY ts_ms DESC, id DESC LIMIT 1`, string(name))
	var h HistoryRow
	var pkg, action string
	var from, to sql.NullString
	var success int
	if err := row.Scan(&h.ID, &h.TsMillis, &action, &pkg, &from, &to, &success); err != nil {
		if err == sql.ErrNoRows {
			return HistoryRow{}, false, nil
		}
		return HistoryRow{}, false, fmt.Errorf("statedb: get_last_successful_history: %w", err)
	}
	h.Action, h.Package, h.VersionFrom, h.VersionTo, h.Success = Action(action), ident.Name(pkg), from.String, to.String, success != 0
	return h, true, nil
}

func scanHistory(rows *sql.Rows) ([]HistoryRow, error) {
	var out []HistoryRow
	for rows.Next() {
		var h HistoryRow
		var pkg, action string
		var from, to sql.NullString
		var success int
		if err := rows.Scan(&h.ID, &h.TsMillis, &action, &pkg, &from, &to, &success); err != nil {
			return nil, err
		}
		h.Action, h.Package, h.VersionFrom, h.VersionTo, h.Success = Action(action), ident.Name(pkg), from.String, to.String, success != 0
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TsMillis > out[j].TsMillis })
	return out, rows.Err()
}

// removePackage deletes the package's rows and returns the file paths the
// caller must unlink.
func (d *db) removePackage(name ident.Name) (paths []string, err error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("statedb: remove_package: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	rows, qerr := tx.Query(`SELECT path FROM files WHERE name = ?`, string(name))
	if qerr != nil {
		err = fmt.Errorf("select files: %w", qerr)
		return nil, err
	}
	for rows.Next() {
		var p string
		if serr := rows.Scan(&p); serr != nil {
			rows.Close()
			err = serr
			return nil, err
		}
		paths = append(paths, p)
	}
	rows.Close()

	if _, err = tx.Exec(`DELETE FROM files WHERE name = ?`, string(name)); err != nil {
		return nil, fmt.Errorf("delete files: %w", err)
	}
	if _, err = tx.Exec(`DELETE FROM installed_versions WHERE name = ?`, string(name)); err != nil {
		return nil, fmt.Errorf("delete installed_versions: %w", err)
	}
	if _, err = tx.Exec(`DELETE FROM packages WHERE name = ?`, string(name)); err != nil {
		return nil, fmt.Errorf("delete packages: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("statedb: remove_package: commit: %w", err)
	}
	return paths, nil
}
