package followup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/followup/internal/database"
	"github.com/TobiSchelling/followup/internal/trigger"
)

// TriggerError records the failure of one trigger within a batch.
type TriggerError struct {
	TriggerID int64  `json:"trigger_id"`
	Message   string `json:"message"`
}

// TriggerResult holds the results of a trigger processing run.
type TriggerResult struct {
	Processed        int            `json:"processed"`
	Triggered        int            `json:"triggered"`
	Expired          int            `json:"expired"`
	FollowUpsCreated int            `json:"follow_ups_created"`
	Errors           []TriggerError `json:"errors"`
}

type triggerOutcome int

const (
	outcomeChecked triggerOutcome = iota
	outcomeExpired
	outcomeTriggered
	outcomeSkipped
)

// ProcessTriggers checks every due trigger of the region. Triggers of
// different threads run concurrently; triggers of one thread run in order
// under that thread's lock. One trigger failing never stops the batch.
func (s *Service) ProcessTriggers(ctx context.Context, regionID int64) *TriggerResult {
	start := s.now()
	r := &TriggerResult{}
	log := logrus.WithField("region_id", regionID)

	if _, err := s.dispatcher.Flush(ctx); err != nil {
		log.Warnf("Flushing follow-up outbox: %v", err)
	}

	due, err := s.db.GetDueTriggers(regionID, s.now().UTC())
	if err != nil {
		log.Errorf("Loading due triggers: %v", err)
		r.Errors = append(r.Errors, TriggerError{Message: err.Error()})
		s.record(r, start)
		return r
	}
	if len(due) == 0 {
		log.Debug("No triggers due")
		s.record(r, start)
		return r
	}

	var groups [][]database.FollowUpTrigger
	for i, trig := range due {
		if i == 0 || trig.ThreadID != due[i-1].ThreadID {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], trig)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for _, group := range groups {
		g.Go(func() error {
			s.processThreadTriggers(ctx, group, func(id int64, o triggerOutcome, err error) {
				if o == outcomeSkipped && err == nil {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				r.Processed++
				if err != nil {
					r.Errors = append(r.Errors, TriggerError{TriggerID: id, Message: err.Error()})
					return
				}
				switch o {
				case outcomeExpired:
					r.Expired++
				case outcomeTriggered:
					r.Triggered++
					r.FollowUpsCreated++
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	log.Infof("Triggers processed: %d checked, %d triggered, %d expired, %d errors",
		r.Processed, r.Triggered, r.Expired, len(r.Errors))
	s.record(r, start)
	return r
}

func (s *Service) processThreadTriggers(ctx context.Context, group []database.FollowUpTrigger, report func(int64, triggerOutcome, error)) {
	threadID := group[0].ThreadID
	unlock := s.locks.Lock(threadID)
	defer unlock()

	for i := range group {
		trig := &group[i]
		if err := ctx.Err(); err != nil {
			report(trig.ID, 0, err)
			continue
		}
		// An overlapping batch may have handled the trigger while this one
		// waited for the lock.
		current, err := s.db.GetTrigger(trig.ID)
		if err != nil {
			report(trig.ID, 0, err)
			continue
		}
		if current == nil || current.Status != database.TriggerPending || current.NextCheckAt.After(s.now().UTC()) {
			report(trig.ID, outcomeSkipped, nil)
			continue
		}
		// Reload per trigger: a fired trigger may change what the next one sees.
		t, err := s.db.GetThread(threadID)
		if err == nil && t == nil {
			err = fmt.Errorf("thread %d: %w", threadID, database.ErrNotFound)
		}
		if err != nil {
			report(trig.ID, 0, err)
			continue
		}
		o, err := s.processTrigger(ctx, current, t)
		report(trig.ID, o, err)
	}
}

// processTrigger runs the per-trigger protocol: expire, else evaluate and
// either fire or back off.
func (s *Service) processTrigger(ctx context.Context, trig *database.FollowUpTrigger, t *database.StoryThread) (o triggerOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	log := logrus.WithFields(logrus.Fields{"trigger_id": trig.ID, "thread_id": t.ID, "type": trig.Type})
	now := s.now().UTC()

	if trig.ExpiresAt != nil && now.After(*trig.ExpiresAt) {
		if err := s.db.MarkTriggerExpired(trig.ID); err != nil {
			return 0, fmt.Errorf("expiring trigger: %w", err)
		}
		log.Debug("Trigger expired")
		return outcomeExpired, nil
	}

	result := s.evaluator.Evaluate(ctx, trig, t)
	if !result.Fire {
		// The interval uses the count before this check is recorded, so a
		// trigger's first miss waits one base interval.
		next := trigger.NextCheckAt(now, trig.Type, trig.CheckCount)
		if err := s.db.RecordTriggerCheck(trig.ID, next); err != nil {
			return 0, fmt.Errorf("recording check: %w", err)
		}
		log.Debugf("Not fired (%s), next check %s", result.Reason, next.Format(time.RFC3339))
		return outcomeChecked, nil
	}

	var data json.RawMessage
	if result.Data != nil {
		if data, err = json.Marshal(result.Data); err != nil {
			return 0, fmt.Errorf("encoding trigger data: %w", err)
		}
	}
	req := database.FollowUpRequest{
		ID:             uuid.NewString(),
		ThreadID:       t.ID,
		TriggerID:      trig.ID,
		Reason:         result.Reason,
		Priority:       s.scorer.Score(t, now),
		SuggestedAngle: trigger.SuggestedAngle(trig.Type, t.Title),
		SearchData:     data,
		CreatedAt:      now,
	}
	if err := s.db.MarkTriggeredWithRequest(trig.ID, result.Reason, data, req); err != nil {
		if errors.Is(err, database.ErrTriggerNotPending) {
			return 0, fmt.Errorf("trigger already handled: %w", err)
		}
		return 0, fmt.Errorf("marking trigger triggered: %w", err)
	}
	log.Infof("Trigger fired: %s", result.Reason)

	// The request is in the outbox; a failed emit is retried by the next flush.
	_ = s.dispatcher.Emit(ctx, req)
	return outcomeTriggered, nil
}
