package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS regions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    slug TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    source TEXT,
    content TEXT,
    content_fetched INTEGER DEFAULT 0,
    published_at TEXT,
    views INTEGER NOT NULL DEFAULT 0,
    comments INTEGER NOT NULL DEFAULT 0,
    shares INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS article_regions (
    article_id INTEGER NOT NULL REFERENCES articles(id),
    region_id INTEGER NOT NULL REFERENCES regions(id),
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (article_id, region_id)
);

CREATE TABLE IF NOT EXISTS story_threads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    region_id INTEGER NOT NULL REFERENCES regions(id),
    title TEXT NOT NULL,
    summary TEXT,
    status TEXT NOT NULL DEFAULT 'developing'
        CHECK(status IN ('developing', 'monitoring', 'dormant', 'resolved')),
    monitoring_keywords TEXT,
    key_people TEXT,
    last_article_at TEXT,
    total_views INTEGER NOT NULL DEFAULT 0,
    total_comments INTEGER NOT NULL DEFAULT 0,
    resolution_type TEXT,
    resolution_reason TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS thread_articles (
    thread_id INTEGER NOT NULL REFERENCES story_threads(id),
    article_id INTEGER NOT NULL REFERENCES articles(id),
    addition_type TEXT NOT NULL CHECK(addition_type IN ('origin', 'development', 'update')),
    linked_at TEXT NOT NULL,
    PRIMARY KEY (thread_id, article_id)
);

CREATE TABLE IF NOT EXISTS follow_up_triggers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    thread_id INTEGER NOT NULL REFERENCES story_threads(id),
    trigger_type TEXT NOT NULL,
    conditions TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending', 'triggered', 'expired')),
    check_count INTEGER NOT NULL DEFAULT 0,
    next_check_at TEXT NOT NULL,
    expires_at TEXT,
    triggered_at TEXT,
    triggered_reason TEXT,
    triggered_data TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS follow_up_requests (
    id TEXT PRIMARY KEY,
    thread_id INTEGER NOT NULL REFERENCES story_threads(id),
    trigger_id INTEGER NOT NULL REFERENCES follow_up_triggers(id),
    reason TEXT NOT NULL,
    priority REAL NOT NULL DEFAULT 0,
    suggested_angle TEXT NOT NULL,
    search_data TEXT,
    created_at TEXT NOT NULL,
    emitted_at TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_article_regions_region ON article_regions(region_id);
CREATE INDEX IF NOT EXISTS idx_thread_articles_article ON thread_articles(article_id);
CREATE INDEX IF NOT EXISTS idx_story_threads_region_status ON story_threads(region_id, status);
CREATE INDEX IF NOT EXISTS idx_triggers_due ON follow_up_triggers(status, next_check_at);
CREATE INDEX IF NOT EXISTS idx_triggers_thread ON follow_up_triggers(thread_id);
CREATE INDEX IF NOT EXISTS idx_follow_up_requests_pending ON follow_up_requests(emitted_at, created_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
