package journal

// Schema is the journal DDL. Times are unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id       TEXT PRIMARY KEY,
    root         TEXT NOT NULL,
    method       TEXT NOT NULL,
    recursive    INTEGER NOT NULL DEFAULT 0,
    force        INTEGER NOT NULL DEFAULT 0,
    dry_run      INTEGER NOT NULL DEFAULT 0,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER,
    status       TEXT NOT NULL DEFAULT 'running',
    files        INTEGER NOT NULL DEFAULT 0,
    success      INTEGER NOT NULL DEFAULT 0,
    errors       INTEGER NOT NULL DEFAULT 0,
    skipped      INTEGER NOT NULL DEFAULT 0,
    expansions   INTEGER NOT NULL DEFAULT 0,
    passes       INTEGER NOT NULL DEFAULT 0,
    source_bytes INTEGER NOT NULL DEFAULT 0,
    output_bytes INTEGER NOT NULL DEFAULT 0,
    report_path  TEXT,
    detail       TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS outcomes (
    outcome_id   INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    recorded_at  INTEGER NOT NULL,
    status       TEXT NOT NULL,
    kind         TEXT NOT NULL,
    ext          TEXT NOT NULL,
    source_path  TEXT NOT NULL,
    output_path  TEXT,
    method       TEXT,
    duration_ms  INTEGER NOT NULL,
    source_size  INTEGER NOT NULL DEFAULT 0,
    output_size  INTEGER NOT NULL DEFAULT 0,
    fingerprint  TEXT,
    detail       TEXT,
    attempts     TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_outcomes_run_status ON outcomes(run_id, status);
CREATE INDEX IF NOT EXISTS idx_outcomes_source ON outcomes(source_path);

CREATE TABLE IF NOT EXISTS expansions (
    expansion_id   INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id         TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    recorded_at    INTEGER NOT NULL,
    container_path TEXT NOT NULL,
    output_dir     TEXT NOT NULL,
    kind           TEXT NOT NULL,
    created        INTEGER NOT NULL,
    entries        INTEGER NOT NULL DEFAULT 0,
    skipped        INTEGER NOT NULL DEFAULT 0,
    duration_ms    INTEGER NOT NULL,
    detail         TEXT
);
CREATE INDEX IF NOT EXISTS idx_expansions_run ON expansions(run_id);
`
