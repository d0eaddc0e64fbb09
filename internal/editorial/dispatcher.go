package editorial

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/database"
)

const flushBatch = 500

// Outbox is where fired triggers leave their follow-up requests.
type Outbox interface {
	GetFollowUp(id string) (*database.FollowUpRequest, error)
	GetUnemittedFollowUps(limit int) ([]database.FollowUpRequest, error)
	MarkFollowUpEmitted(id string, at time.Time) error
	RecordFollowUpFailure(id string, message string) error
}

// FlushResult counts the outcome of one outbox flush.
type FlushResult struct {
	Emitted int
	Failed  int
}

// Dispatcher moves follow-up requests from the outbox to the queue. A request
// stays in the outbox until the queue accepts it. Deliveries are serialized
// so a flush and an emit never publish the same request at once.
type Dispatcher struct {
	mu     sync.Mutex
	outbox Outbox
	queue  Queue
	now    func() time.Time
}

// NewDispatcher creates a dispatcher. A nil clock means time.Now.
func NewDispatcher(outbox Outbox, queue Queue, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{outbox: outbox, queue: queue, now: now}
}

// Emit publishes one freshly created request and records the outcome in the
// outbox. A request a concurrent flush already delivered is skipped.
func (d *Dispatcher) Emit(ctx context.Context, req database.FollowUpRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.outbox.GetFollowUp(req.ID)
	if err != nil {
		return err
	}
	if current == nil || current.EmittedAt != nil {
		return nil
	}
	return d.publish(ctx, req)
}

func (d *Dispatcher) publish(ctx context.Context, req database.FollowUpRequest) error {
	log := logrus.WithFields(logrus.Fields{"request_id": req.ID, "thread_id": req.ThreadID})

	if err := d.queue.Publish(ctx, req); err != nil {
		log.Warnf("Publishing follow-up request failed, will retry: %v", err)
		if rerr := d.outbox.RecordFollowUpFailure(req.ID, err.Error()); rerr != nil {
			log.Errorf("Recording delivery failure: %v", rerr)
		}
		return err
	}
	if err := d.outbox.MarkFollowUpEmitted(req.ID, d.now().UTC()); err != nil {
		log.Errorf("Marking follow-up request emitted: %v", err)
		return err
	}
	return nil
}

// Flush retries every request that has not been delivered yet, oldest first.
func (d *Dispatcher) Flush(ctx context.Context) (FlushResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var r FlushResult
	pending, err := d.outbox.GetUnemittedFollowUps(flushBatch)
	if err != nil {
		return r, err
	}
	for _, req := range pending {
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		if err := d.publish(ctx, req); err != nil {
			r.Failed++
			continue
		}
		r.Emitted++
	}
	if len(pending) > 0 {
		logrus.Infof("Outbox flush: %d emitted, %d failed", r.Emitted, r.Failed)
	}
	return r, nil
}
