package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const threadColumns = `id, region_id, title, summary, status, monitoring_keywords, key_people,
	last_article_at, total_views, total_comments, resolution_type, resolution_reason,
	created_at, updated_at`

// CreateThreadFromArticle creates a developing thread seeded by an article,
// links the article as its origin and stores the initial triggers, all in one
// transaction. Returns the new thread ID.
func (db *DB) CreateThreadFromArticle(t NewThread, articleID int64, at time.Time, triggers []NewTrigger) (int64, error) {
	kwJSON, err := json.Marshal(nonNil(t.MonitoringKeywords))
	if err != nil {
		return 0, err
	}
	peopleJSON, err := json.Marshal(nonNilPeople(t.KeyPeople))
	if err != nil {
		return 0, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := formatTime(at)
	result, err := tx.Exec(
		`INSERT INTO story_threads
		(region_id, title, summary, status, monitoring_keywords, key_people, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RegionID, t.Title, t.Summary, StatusDeveloping, string(kwJSON), string(peopleJSON), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting thread: %w", err)
	}
	threadID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := linkArticle(tx, threadID, articleID, AdditionOrigin, at); err != nil {
		return 0, err
	}

	for _, trig := range triggers {
		trig.ThreadID = threadID
		if _, err := insertTrigger(tx, trig, at); err != nil {
			return 0, err
		}
	}

	return threadID, tx.Commit()
}

// LinkArticle links an article to a thread, adds its engagement to the thread
// totals and advances last_article_at. Linking an already linked article is a no-op
// and returns false.
func (db *DB) LinkArticle(threadID, articleID int64, addition AdditionType, at time.Time) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	linked, err := linkArticle(tx, threadID, articleID, addition, at)
	if err != nil {
		return false, err
	}
	return linked, tx.Commit()
}

func linkArticle(tx *sql.Tx, threadID, articleID int64, addition AdditionType, at time.Time) (bool, error) {
	ts := formatTime(at)
	result, err := tx.Exec(
		`INSERT OR IGNORE INTO thread_articles (thread_id, article_id, addition_type, linked_at)
		VALUES (?, ?, ?, ?)`,
		threadID, articleID, addition, ts,
	)
	if err != nil {
		return false, fmt.Errorf("linking article %d: %w", articleID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.Exec(
		`UPDATE story_threads SET
			total_views = total_views + (SELECT views FROM articles WHERE id = ?),
			total_comments = total_comments + (SELECT comments FROM articles WHERE id = ?),
			last_article_at = ?,
			updated_at = ?
		WHERE id = ?`,
		articleID, articleID, ts, ts, threadID,
	)
	if err != nil {
		return false, fmt.Errorf("updating thread %d totals: %w", threadID, err)
	}
	return true, nil
}

// GetThread returns a thread by ID, or nil if it does not exist.
func (db *DB) GetThread(threadID int64) (*StoryThread, error) {
	row := db.conn.QueryRow(`SELECT `+threadColumns+` FROM story_threads WHERE id = ?`, threadID)
	t, err := scanThreadRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetThreadsByStatus returns the region's threads in any of the given states,
// ordered by ID. With no statuses every thread of the region is returned.
func (db *DB) GetThreadsByStatus(regionID int64, statuses ...ThreadStatus) ([]StoryThread, error) {
	query := `SELECT ` + threadColumns + ` FROM story_threads WHERE region_id = ?`
	args := []any{regionID}
	if len(statuses) > 0 {
		query += " AND status IN (?" + strings.Repeat(",?", len(statuses)-1) + ")"
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += " ORDER BY id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []StoryThread
	for rows.Next() {
		t, err := scanThreadRow(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

// GetActiveThreads returns the region's developing and monitoring threads.
func (db *DB) GetActiveThreads(regionID int64) ([]StoryThread, error) {
	return db.GetThreadsByStatus(regionID, StatusDeveloping, StatusMonitoring)
}

// UpdateThreadStatus sets a thread's status and, for resolved threads, the
// resolution details.
func (db *DB) UpdateThreadStatus(threadID int64, status ThreadStatus, resolutionType, resolutionReason *string, at time.Time) error {
	result, err := db.conn.Exec(
		`UPDATE story_threads SET status = ?,
			resolution_type = COALESCE(?, resolution_type),
			resolution_reason = COALESCE(?, resolution_reason),
			updated_at = ?
		WHERE id = ?`,
		status, resolutionType, resolutionReason, formatTime(at), threadID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// RecomputeThreadTotals replaces the thread's engagement totals with the sum
// over its linked articles. This is the only path that may lower the totals.
func (db *DB) RecomputeThreadTotals(threadID int64) error {
	result, err := db.conn.Exec(
		`UPDATE story_threads SET
			total_views = (SELECT COALESCE(SUM(a.views), 0) FROM articles a
				JOIN thread_articles ta ON ta.article_id = a.id WHERE ta.thread_id = ?),
			total_comments = (SELECT COALESCE(SUM(a.comments), 0) FROM articles a
				JOIN thread_articles ta ON ta.article_id = a.id WHERE ta.thread_id = ?)
		WHERE id = ?`,
		threadID, threadID, threadID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanThreadRow(row rowScanner) (*StoryThread, error) {
	var t StoryThread
	var summary, kwJSON, peopleJSON, lastArticle, resType, resReason sql.NullString
	var status, created, updated string
	if err := row.Scan(&t.ID, &t.RegionID, &t.Title, &summary, &status, &kwJSON, &peopleJSON,
		&lastArticle, &t.TotalViews, &t.TotalComments, &resType, &resReason,
		&created, &updated); err != nil {
		return nil, err
	}
	t.Summary = nullString(summary)
	t.Status = ThreadStatus(status)
	t.LastArticleAt = parseTimePtr(lastArticle)
	t.ResolutionType = nullString(resType)
	t.ResolutionReason = nullString(resReason)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)

	if kwJSON.Valid {
		if err := json.Unmarshal([]byte(kwJSON.String), &t.MonitoringKeywords); err != nil {
			t.MonitoringKeywords = nil
		}
	}
	if peopleJSON.Valid {
		if err := json.Unmarshal([]byte(peopleJSON.String), &t.KeyPeople); err != nil {
			t.KeyPeople = nil
		}
	}
	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilPeople(p []KeyPerson) []KeyPerson {
	if p == nil {
		return []KeyPerson{}
	}
	return p
}

// GetThreadRegionSlug returns the slug of the region owning a thread, or ""
// if the thread does not exist.
func (db *DB) GetThreadRegionSlug(threadID int64) (string, error) {
	var slug string
	err := db.conn.QueryRow(
		`SELECT r.slug FROM story_threads t JOIN regions r ON r.id = t.region_id WHERE t.id = ?`, threadID,
	).Scan(&slug)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return slug, err
}
