package statedb

// schema is applied once at Open via CREATE TABLE IF NOT EXISTS. Column
// layout follows  "State DB" exactly.
const schema = `
CREATE TABLE IF NOT EXISTS packages (
	name           TEXT PRIMARY KEY,
	description    TEXT NOT NULL DEFAULT '',
	type           TEXT NOT NULL DEFAULT '',
	active_version TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS installed_versions (
	name         TEXT NOT NULL,
	version      TEXT NOT NULL,
	sha256       TEXT NOT NULL,
	size_bytes   INTEGER NOT NULL,
	installed_at INTEGER NOT NULL,
	active       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (name, version)
);

CREATE TABLE IF NOT EXISTS files (
	name    TEXT NOT NULL,
	version TEXT NOT NULL,
	path    TEXT NOT NULL,
	kind    TEXT NOT NULL,
	PRIMARY KEY (name, version, path)
);

CREATE TABLE IF NOT EXISTS history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_ms         INTEGER NOT NULL,
	action        TEXT NOT NULL,
	package       TEXT NOT NULL,
	version_from  TEXT,
	version_to    TEXT,
	success       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_package_ts ON history(package, ts_ms DESC);
`
