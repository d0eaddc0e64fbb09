package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const triggerColumns = `tr.id, tr.thread_id, tr.trigger_type, tr.conditions, tr.status, tr.check_count,
	tr.next_check_at, tr.expires_at, tr.triggered_at, tr.triggered_reason, tr.triggered_data, tr.created_at`

// InsertTrigger creates a pending trigger.
func (db *DB) InsertTrigger(t NewTrigger) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertTrigger(tx, t, time.Now())
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func insertTrigger(tx *sql.Tx, t NewTrigger, at time.Time) (int64, error) {
	conditions := string(t.Conditions)
	if conditions == "" {
		conditions = "{}"
	}
	result, err := tx.Exec(
		`INSERT INTO follow_up_triggers
		(thread_id, trigger_type, conditions, status, next_check_at, expires_at, created_at)
		VALUES (?, ?, ?, 'pending', ?, ?, ?)`,
		t.ThreadID, t.Type, conditions, formatTime(t.NextCheckAt), formatTimePtr(t.ExpiresAt), formatTime(at),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting %s trigger: %w", t.Type, err)
	}
	return result.LastInsertId()
}

// GetTrigger returns a trigger by ID, or nil if it does not exist.
func (db *DB) GetTrigger(triggerID int64) (*FollowUpTrigger, error) {
	row := db.conn.QueryRow(`SELECT `+triggerColumns+` FROM follow_up_triggers tr WHERE tr.id = ?`, triggerID)
	t, err := scanTriggerRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetDueTriggers returns pending triggers of the region whose next check is at
// or before now, grouped by thread.
func (db *DB) GetDueTriggers(regionID int64, now time.Time) ([]FollowUpTrigger, error) {
	return db.queryTriggers(
		`SELECT `+triggerColumns+`
		FROM follow_up_triggers tr JOIN story_threads t ON t.id = tr.thread_id
		WHERE t.region_id = ? AND tr.status = 'pending' AND tr.next_check_at <= ?
		ORDER BY tr.thread_id, tr.id`,
		regionID, formatTime(now),
	)
}

// GetTriggersForThread returns every trigger attached to a thread.
func (db *DB) GetTriggersForThread(threadID int64) ([]FollowUpTrigger, error) {
	return db.queryTriggers(
		`SELECT `+triggerColumns+` FROM follow_up_triggers tr WHERE tr.thread_id = ? ORDER BY tr.id`,
		threadID,
	)
}

// MarkTriggerExpired moves a pending trigger to expired.
func (db *DB) MarkTriggerExpired(triggerID int64) error {
	result, err := db.conn.Exec(
		`UPDATE follow_up_triggers SET status = 'expired' WHERE id = ? AND status = 'pending'`,
		triggerID,
	)
	if err != nil {
		return err
	}
	return pendingAffected(result)
}

// RecordTriggerCheck increments the check count of a pending trigger and
// schedules its next check.
func (db *DB) RecordTriggerCheck(triggerID int64, nextCheckAt time.Time) error {
	result, err := db.conn.Exec(
		`UPDATE follow_up_triggers SET check_count = check_count + 1, next_check_at = ?
		WHERE id = ? AND status = 'pending'`,
		formatTime(nextCheckAt), triggerID,
	)
	if err != nil {
		return err
	}
	return pendingAffected(result)
}

// MarkTriggeredWithRequest marks a pending trigger as triggered and stores the
// follow-up request it produced in the same transaction, so a fired trigger
// always has a request waiting to be emitted.
func (db *DB) MarkTriggeredWithRequest(triggerID int64, reason string, data json.RawMessage, req FollowUpRequest) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE follow_up_triggers SET status = 'triggered', check_count = check_count + 1,
			triggered_at = ?, triggered_reason = ?, triggered_data = ?
		WHERE id = ? AND status = 'pending'`,
		formatTime(req.CreatedAt), reason, rawJSONArg(data), triggerID,
	)
	if err != nil {
		return err
	}
	if err := pendingAffected(result); err != nil {
		return err
	}

	if err := insertFollowUp(tx, req); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetTrigger is the administrative reset: it returns a trigger of any status
// to pending, due immediately. The check count is kept.
func (db *DB) ResetTrigger(triggerID int64, now time.Time) error {
	result, err := db.conn.Exec(
		`UPDATE follow_up_triggers SET status = 'pending', next_check_at = ?,
			triggered_at = NULL, triggered_reason = NULL, triggered_data = NULL
		WHERE id = ?`,
		formatTime(now), triggerID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func pendingAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTriggerNotPending
	}
	return nil
}

func (db *DB) queryTriggers(query string, args ...any) ([]FollowUpTrigger, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []FollowUpTrigger
	for rows.Next() {
		t, err := scanTriggerRow(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, *t)
	}
	return triggers, rows.Err()
}

func scanTriggerRow(row rowScanner) (*FollowUpTrigger, error) {
	var t FollowUpTrigger
	var typ, conditions, status, nextCheck, created string
	var expires, triggeredAt, reason, data sql.NullString
	if err := row.Scan(&t.ID, &t.ThreadID, &typ, &conditions, &status, &t.CheckCount,
		&nextCheck, &expires, &triggeredAt, &reason, &data, &created); err != nil {
		return nil, err
	}
	t.Type = TriggerType(typ)
	t.Conditions = json.RawMessage(conditions)
	t.Status = TriggerStatus(status)
	t.NextCheckAt = parseTime(nextCheck)
	t.ExpiresAt = parseTimePtr(expires)
	t.TriggeredAt = parseTimePtr(triggeredAt)
	t.TriggeredReason = nullString(reason)
	t.TriggeredData = rawJSON(data)
	t.CreatedAt = parseTime(created)
	return &t, nil
}
