package sqlite

// triggersSQL is applied right after schemaSQL, as the second step of
// migrationsList, so the triggers exist before any row is ever written.
// Initiatives, projects, tasks and comments each get an INSERT trigger that
// appends a *.created event and an UPDATE trigger that bumps version and
// appends a *.updated event exactly once per caller-visible write, per
// spec.md §4.1; the other tables have event triggers but no version bump.
//
// The version-bump idiom: the UPDATE trigger fires `WHEN NEW.version =
// OLD.version` (true only for the caller's own write, since the caller
// never sets version itself) and issues a second UPDATE that sets
// version = OLD.version + 1. That second UPDATE re-fires the same trigger,
// but by then NEW.version != OLD.version so the WHEN guard stops the
// recursion after one extra hop. This requires `PRAGMA recursive_triggers =
// ON`, set in conn.go alongside the other per-connection pragmas.
const triggersSQL = `
CREATE TRIGGER IF NOT EXISTS trg_initiatives_insert
AFTER INSERT ON initiatives
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('initiative.created', 'initiative', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id, 'slug', NEW.slug, 'name', NEW.name, 'status', NEW.status),
		NEW.created_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_initiatives_update
AFTER UPDATE ON initiatives
WHEN NEW.version = OLD.version
BEGIN
	UPDATE initiatives SET version = OLD.version + 1 WHERE id = NEW.id;
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES (CASE WHEN NEW.status = 'archived' AND OLD.status != 'archived' THEN 'initiative.archived' ELSE 'initiative.updated' END,
		'initiative', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id, 'status', NEW.status),
		NEW.updated_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_projects_insert
AFTER INSERT ON projects
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('project.created', 'project', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id, 'slug', NEW.slug, 'name', NEW.name, 'status', NEW.status),
		NEW.created_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_projects_update
AFTER UPDATE ON projects
WHEN NEW.version = OLD.version
BEGIN
	UPDATE projects SET version = OLD.version + 1 WHERE id = NEW.id;
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('project.updated', 'project', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id, 'status', NEW.status),
		NEW.updated_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_projects_archived_event
AFTER UPDATE ON projects
WHEN NEW.version = OLD.version AND NEW.status = 'archived' AND OLD.status != 'archived'
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('project.archived', 'project', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id),
		NEW.updated_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_tasks_insert
AFTER INSERT ON tasks
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('task.created', 'task', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id, 'project_id', NEW.project_id, 'status', NEW.status, 'priority', NEW.priority),
		NEW.created_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_tasks_update
AFTER UPDATE ON tasks
WHEN NEW.version = OLD.version
BEGIN
	UPDATE tasks SET version = OLD.version + 1 WHERE id = NEW.id;
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('task.updated', 'task', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id, 'status', NEW.status, 'priority', NEW.priority),
		NEW.updated_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_tasks_status_changed
AFTER UPDATE ON tasks
WHEN NEW.version = OLD.version AND NEW.status != OLD.status
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('task.status_changed', 'task', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id, 'from', OLD.status, 'to', NEW.status),
		NEW.updated_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_tasks_started
AFTER UPDATE ON tasks
WHEN NEW.version = OLD.version AND NEW.status = 'in_progress' AND OLD.status != 'in_progress'
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('task.started', 'task', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id), NEW.updated_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_tasks_completed
AFTER UPDATE ON tasks
WHEN NEW.version = OLD.version AND NEW.status = 'done' AND OLD.status != 'done'
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('task.completed', 'task', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id), NEW.updated_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_tasks_blocked
AFTER UPDATE ON tasks
WHEN NEW.version = OLD.version AND NEW.status = 'blocked' AND OLD.status != 'blocked'
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('task.blocked', 'task', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id, 'reason', NEW.blocked_reason), NEW.updated_at);
END;

-- Claim set: a genuinely new owner taking the claim (not a lease renewal by
-- the same owner, which only changes claim_lease_expires_at).
CREATE TRIGGER IF NOT EXISTS trg_tasks_claimed
AFTER UPDATE ON tasks
WHEN NEW.version = OLD.version AND NEW.claim_owner IS NOT NULL
	AND (OLD.claim_owner IS NULL OR OLD.claim_owner != NEW.claim_owner)
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('task.claimed', 'task', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id, 'owner', NEW.claim_owner), NEW.updated_at);
END;

-- Claim release on terminal status: clear the claim triple and emit
-- task.released, guarded so the follow-up UPDATE (which clears the claim)
-- does not recurse.
CREATE TRIGGER IF NOT EXISTS trg_tasks_release_on_terminal
AFTER UPDATE ON tasks
WHEN NEW.version = OLD.version AND (NEW.status = 'done' OR NEW.status = 'blocked')
	AND NEW.claim_owner IS NOT NULL
BEGIN
	UPDATE tasks SET claim_owner = NULL, claim_claimed_at = NULL, claim_lease_expires_at = NULL WHERE id = NEW.id;
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('task.released', 'task', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id, 'owner', NEW.claim_owner), NEW.updated_at);
END;

-- Cascade project auto-completion (I6): a project with every non-draft task
-- done moves to archived.
CREATE TRIGGER IF NOT EXISTS trg_tasks_cascade_project_archive
AFTER UPDATE ON tasks
WHEN NEW.version = OLD.version AND NEW.status = 'done' AND OLD.status != 'done'
	AND NOT EXISTS (
		SELECT 1 FROM tasks
		WHERE project_id = NEW.project_id AND status != 'draft' AND status != 'done'
	)
BEGIN
	UPDATE projects SET status = 'archived' WHERE id = NEW.project_id AND status = 'active';
END;

-- Dependency unblock notifications: a dependent task whose task-deps are
-- now all done and whose project-deps are satisfied gets task.unblocked.
-- Actionability here only checks status per the stricter reading of
-- spec.md §9 open question (i): draft dependents are excluded.
CREATE TRIGGER IF NOT EXISTS trg_tasks_unblock_dependents
AFTER UPDATE ON tasks
WHEN NEW.version = OLD.version AND NEW.status = 'done' AND OLD.status != 'done'
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	SELECT 'task.unblocked', 'task', td.task_id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', td.task_id, 'unblocked_by', NEW.id),
		NEW.updated_at
	FROM task_dependencies td
	JOIN tasks dependent ON dependent.id = td.task_id
	WHERE td.depends_on_task_id = NEW.id
		AND dependent.status IN ('todo', 'in_progress')
		AND NOT EXISTS (
			SELECT 1 FROM task_dependencies td2
			JOIN tasks dep2 ON dep2.id = td2.depends_on_task_id
			WHERE td2.task_id = dependent.id AND dep2.status != 'done'
		)
		AND NOT EXISTS (
			SELECT 1 FROM project_dependencies pd
			JOIN projects p2 ON p2.id = pd.depends_on_project_id
			WHERE pd.project_id = dependent.project_id
				AND p2.status != 'archived'
				AND EXISTS (SELECT 1 FROM tasks t2 WHERE t2.project_id = p2.id AND t2.status != 'draft' AND t2.status != 'done')
		);
END;

CREATE TRIGGER IF NOT EXISTS trg_comments_insert
AFTER INSERT ON comments
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('comment.created', 'comment', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id, 'parent_type', NEW.parent_type, 'parent_id', NEW.parent_id, 'kind', NEW.kind),
		NEW.created_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_comments_update
AFTER UPDATE ON comments
WHEN NEW.version = OLD.version
BEGIN
	UPDATE comments SET version = OLD.version + 1 WHERE id = NEW.id;
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('comment.updated', 'comment', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id), NEW.updated_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_artifacts_insert
AFTER INSERT ON artifacts
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('artifact.added', 'artifact', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('id', NEW.id, 'parent_type', NEW.parent_type, 'parent_id', NEW.parent_id, 'artifact_type', NEW.artifact_type),
		NEW.created_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_sessions_insert
AFTER INSERT ON sessions
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('session.started', 'session', NEW.id, NULL, NEW.id,
		json_object('id', NEW.id, 'mode', NEW.mode), NEW.created_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_sessions_update
AFTER UPDATE ON sessions
WHEN NEW.focus_task_id IS NOT OLD.focus_task_id
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('session.focus_changed', 'session', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1), NEW.id,
		json_object('id', NEW.id, 'focus_task_id', NEW.focus_task_id), NEW.updated_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_sessions_closed
AFTER UPDATE ON sessions
WHEN NEW.closed_at IS NOT NULL AND OLD.closed_at IS NULL
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('session.closed', 'session', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1), NEW.id,
		json_object('id', NEW.id), NEW.closed_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_session_scope_insert
AFTER INSERT ON session_scope
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('session.scope_added', 'session', NEW.session_id,
		(SELECT actor FROM edit_context WHERE id = 1), NEW.session_id,
		json_object('item_type', NEW.item_type, 'item_id', NEW.item_id), NEW.pinned_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_session_scope_delete
AFTER DELETE ON session_scope
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('session.scope_removed', 'session', OLD.session_id,
		(SELECT actor FROM edit_context WHERE id = 1), OLD.session_id,
		json_object('item_type', OLD.item_type, 'item_id', OLD.item_id),
		strftime('%Y-%m-%dT%H:%M:%fZ', 'now'));
END;

CREATE TRIGGER IF NOT EXISTS trg_checkpoints_insert
AFTER INSERT ON checkpoints
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('checkpoint.created', 'checkpoint', NEW.id,
		(SELECT actor FROM edit_context WHERE id = 1), NEW.session_id,
		json_object('id', NEW.id, 'session_id', NEW.session_id, 'name', NEW.name), NEW.created_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_project_dependencies_insert
AFTER INSERT ON project_dependencies
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('dependency.added', 'project', NEW.project_id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('depends_on', NEW.depends_on_project_id), NEW.created_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_project_dependencies_delete
AFTER DELETE ON project_dependencies
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('dependency.removed', 'project', OLD.project_id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('depends_on', OLD.depends_on_project_id),
		strftime('%Y-%m-%dT%H:%M:%fZ', 'now'));
END;

CREATE TRIGGER IF NOT EXISTS trg_task_dependencies_insert
AFTER INSERT ON task_dependencies
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('dependency.added', 'task', NEW.task_id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('depends_on', NEW.depends_on_task_id), NEW.created_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_task_dependencies_delete
AFTER DELETE ON task_dependencies
BEGIN
	INSERT INTO events (event_type, entity_type, entity_id, actor, session_id, payload, created_at)
	VALUES ('dependency.removed', 'task', OLD.task_id,
		(SELECT actor FROM edit_context WHERE id = 1),
		(SELECT session_id FROM edit_context WHERE id = 1),
		json_object('depends_on', OLD.depends_on_task_id),
		strftime('%Y-%m-%dT%H:%M:%fZ', 'now'));
END;
`
