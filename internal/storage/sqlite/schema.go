package sqlite

// schemaSQL creates every workspace table. The triggers that enforce
// invariants I1-I6 and append to the event log live in triggersSQL
// (triggers.go), applied right after this, per spec.md §4.1. Triggers,
// not application code, own event emission and cascade behavior so that the
// daemon and any direct-DB reader observe the same mutations consistently.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS counters (
	namespace TEXT PRIMARY KEY,
	value     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS edit_context (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	actor      TEXT,
	session_id TEXT
);
INSERT OR IGNORE INTO edit_context (id, actor, session_id) VALUES (1, NULL, NULL);

CREATE TABLE IF NOT EXISTS initiatives (
	id          TEXT PRIMARY KEY,
	slug        TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT,
	owner       TEXT,
	status      TEXT NOT NULL DEFAULT 'active',
	tags        TEXT NOT NULL DEFAULT '[]',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	version     INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS initiative_projects (
	initiative_id TEXT NOT NULL REFERENCES initiatives(id),
	project_id    TEXT NOT NULL REFERENCES projects(id),
	added_at      TEXT NOT NULL,
	PRIMARY KEY (initiative_id, project_id)
);

CREATE TABLE IF NOT EXISTS projects (
	id                     TEXT PRIMARY KEY,
	slug                   TEXT NOT NULL,
	name                   TEXT NOT NULL,
	description            TEXT,
	owner                  TEXT,
	status                 TEXT NOT NULL DEFAULT 'active',
	tags                   TEXT NOT NULL DEFAULT '[]',
	default_session_policy TEXT,
	steering_refs          TEXT NOT NULL DEFAULT '[]',
	created_at             TEXT NOT NULL,
	updated_at             TEXT NOT NULL,
	version                INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS project_dependencies (
	project_id            TEXT NOT NULL REFERENCES projects(id),
	depends_on_project_id TEXT NOT NULL REFERENCES projects(id),
	created_at            TEXT NOT NULL,
	PRIMARY KEY (project_id, depends_on_project_id)
);

CREATE TABLE IF NOT EXISTS tasks (
	id                      TEXT PRIMARY KEY,
	project_id              TEXT NOT NULL REFERENCES projects(id),
	task_number             INTEGER NOT NULL,
	parent_task_id          TEXT REFERENCES tasks(id),
	title                   TEXT NOT NULL,
	description             TEXT,
	status                  TEXT NOT NULL DEFAULT 'draft',
	priority                TEXT NOT NULL DEFAULT 'P2',
	owner                   TEXT,
	tags                    TEXT NOT NULL DEFAULT '[]',
	blocked_reason          TEXT,
	started_at              TEXT,
	completed_at            TEXT,
	due_at                  TEXT,
	claim_owner             TEXT,
	claim_claimed_at        TEXT,
	claim_lease_expires_at  TEXT,
	pinned                  INTEGER NOT NULL DEFAULT 0,
	focus_weight            INTEGER NOT NULL DEFAULT 0,
	created_at              TEXT NOT NULL,
	updated_at              TEXT NOT NULL,
	version                 INTEGER NOT NULL DEFAULT 1,
	UNIQUE (project_id, task_number)
);

CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status);

CREATE TABLE IF NOT EXISTS task_dependencies (
	task_id            TEXT NOT NULL REFERENCES tasks(id),
	depends_on_task_id TEXT NOT NULL REFERENCES tasks(id),
	created_at         TEXT NOT NULL,
	PRIMARY KEY (task_id, depends_on_task_id)
);

CREATE TABLE IF NOT EXISTS comments (
	id             TEXT PRIMARY KEY,
	parent_type    TEXT NOT NULL,
	parent_id      TEXT NOT NULL,
	comment_number INTEGER NOT NULL,
	kind           TEXT NOT NULL DEFAULT 'note',
	content        TEXT NOT NULL,
	author         TEXT,
	meta           TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	version        INTEGER NOT NULL DEFAULT 1,
	UNIQUE (parent_id, comment_number)
);

CREATE TABLE IF NOT EXISTS artifacts (
	id              TEXT PRIMARY KEY,
	parent_type     TEXT NOT NULL,
	parent_id       TEXT NOT NULL,
	artifact_number INTEGER NOT NULL,
	artifact_type   TEXT NOT NULL DEFAULT 'file',
	path_or_url     TEXT NOT NULL,
	description     TEXT,
	meta            TEXT,
	created_at      TEXT NOT NULL,
	UNIQUE (parent_id, artifact_number)
);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	name          TEXT,
	owner         TEXT,
	mode          TEXT NOT NULL DEFAULT 'execute',
	focus_task_id TEXT REFERENCES tasks(id),
	variables     TEXT NOT NULL DEFAULT '{}',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	closed_at     TEXT
);

CREATE TABLE IF NOT EXISTS session_scope (
	session_id TEXT NOT NULL REFERENCES sessions(id),
	item_type  TEXT NOT NULL,
	item_id    TEXT NOT NULL,
	pinned_at  TEXT NOT NULL,
	PRIMARY KEY (session_id, item_type, item_id)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	name       TEXT NOT NULL,
	snapshot   TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type  TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	actor       TEXT,
	session_id  TEXT,
	payload     TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_type_id ON events(event_type, id);

CREATE TABLE IF NOT EXISTS event_consumers (
	id           TEXT PRIMARY KEY,
	event_type   TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	last_seen_id INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
`

// globalSchemaSQL creates ~/.granary/workers.db: Worker and Run rows shared
// across workspaces. No triggers here — run.* events are appended into the
// *workspace* event log by internal/runner directly (see that package's
// DESIGN.md entry), since a Run's workspace and the global DB are separate
// SQLite files and cross-database triggers aren't practical across them.
const globalSchemaSQL = `
CREATE TABLE IF NOT EXISTS workers (
	id                  TEXT PRIMARY KEY,
	runner_name         TEXT,
	command             TEXT NOT NULL,
	args                TEXT NOT NULL DEFAULT '[]',
	event_type          TEXT NOT NULL,
	filters             TEXT NOT NULL DEFAULT '[]',
	concurrency         INTEGER NOT NULL DEFAULT 1,
	instance_path       TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'pending',
	error_message       TEXT,
	pid                 INTEGER,
	detached            INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	stopped_at          TEXT,
	poll_cooldown_secs  INTEGER NOT NULL DEFAULT 300,
	last_event_id       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_workers_instance ON workers(instance_path);

CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	worker_id      TEXT NOT NULL REFERENCES workers(id),
	event_id       INTEGER NOT NULL,
	event_type     TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	command        TEXT NOT NULL,
	args           TEXT NOT NULL DEFAULT '[]',
	status         TEXT NOT NULL DEFAULT 'pending',
	exit_code      INTEGER,
	error_message  TEXT,
	attempt        INTEGER NOT NULL DEFAULT 1,
	max_attempts   INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TEXT,
	pid            INTEGER,
	log_path       TEXT,
	started_at     TEXT,
	completed_at   TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_worker_status ON runs(worker_id, status);
`
