package database

import (
	"database/sql"
	"time"
)

const followUpColumns = `id, thread_id, trigger_id, reason, priority, suggested_angle, search_data,
	created_at, emitted_at, attempts, last_error`

func insertFollowUp(tx *sql.Tx, req FollowUpRequest) error {
	_, err := tx.Exec(
		`INSERT INTO follow_up_requests
		(id, thread_id, trigger_id, reason, priority, suggested_angle, search_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ThreadID, req.TriggerID, req.Reason, req.Priority, req.SuggestedAngle,
		rawJSONArg(req.SearchData), formatTime(req.CreatedAt),
	)
	return err
}

// GetUnemittedFollowUps returns follow-up requests not yet delivered to the
// editorial queue, oldest first.
func (db *DB) GetUnemittedFollowUps(limit int) ([]FollowUpRequest, error) {
	return db.queryFollowUps(
		`SELECT `+followUpColumns+` FROM follow_up_requests
		WHERE emitted_at IS NULL ORDER BY created_at, id LIMIT ?`, limit,
	)
}

// GetFollowUpsForThread returns every follow-up request produced for a thread.
func (db *DB) GetFollowUpsForThread(threadID int64) ([]FollowUpRequest, error) {
	return db.queryFollowUps(
		`SELECT `+followUpColumns+` FROM follow_up_requests
		WHERE thread_id = ? ORDER BY created_at, id`, threadID,
	)
}

// GetFollowUp returns a follow-up request by ID, or nil if it does not exist.
func (db *DB) GetFollowUp(id string) (*FollowUpRequest, error) {
	rows, err := db.queryFollowUps(`SELECT `+followUpColumns+` FROM follow_up_requests WHERE id = ?`, id)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// MarkFollowUpEmitted records successful delivery of a follow-up request.
func (db *DB) MarkFollowUpEmitted(id string, at time.Time) error {
	result, err := db.conn.Exec(
		`UPDATE follow_up_requests SET emitted_at = ?, attempts = attempts + 1, last_error = NULL
		WHERE id = ?`,
		formatTime(at), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// RecordFollowUpFailure records a failed delivery attempt.
func (db *DB) RecordFollowUpFailure(id string, message string) error {
	result, err := db.conn.Exec(
		`UPDATE follow_up_requests SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		message, id,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (db *DB) queryFollowUps(query string, args ...any) ([]FollowUpRequest, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []FollowUpRequest
	for rows.Next() {
		var r FollowUpRequest
		var searchData, emitted, lastErr sql.NullString
		var created string
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.TriggerID, &r.Reason, &r.Priority,
			&r.SuggestedAngle, &searchData, &created, &emitted, &r.Attempts, &lastErr); err != nil {
			return nil, err
		}
		r.SearchData = rawJSON(searchData)
		r.CreatedAt = parseTime(created)
		r.EmittedAt = parseTimePtr(emitted)
		r.LastError = nullString(lastErr)
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{Threads: make(map[ThreadStatus]int)}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM regions", &s.Regions},
		{"SELECT COUNT(*) FROM articles", &s.Articles},
		{"SELECT COUNT(DISTINCT article_id) FROM thread_articles", &s.ThreadedArticles},
		{"SELECT COUNT(*) FROM follow_up_triggers WHERE status = 'pending'", &s.PendingTriggers},
		{"SELECT COUNT(*) FROM follow_up_triggers WHERE status = 'triggered'", &s.TriggeredTriggers},
		{"SELECT COUNT(*) FROM follow_up_triggers WHERE status = 'expired'", &s.ExpiredTriggers},
		{"SELECT COUNT(*) FROM follow_up_requests", &s.FollowUps},
		{"SELECT COUNT(*) FROM follow_up_requests WHERE emitted_at IS NULL", &s.UnemittedFollowUps},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	rows, err := db.conn.Query("SELECT status, COUNT(*) FROM story_threads GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		s.Threads[ThreadStatus(status)] = n
	}
	return s, rows.Err()
}
