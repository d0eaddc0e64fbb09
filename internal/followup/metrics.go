package followup

import "time"

// Metrics summarizes the batches run by a Service since it started.
type Metrics struct {
	Runs            int       `json:"runs"`
	Triggered       int       `json:"triggered"`
	Expired         int       `json:"expired"`
	Errors          int       `json:"errors"`
	LastRun         time.Time `json:"last_run"`
	LastRunDuration string    `json:"last_run_duration"`
}

// Metrics returns a snapshot of the counters.
func (s *Service) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

func (s *Service) record(r *TriggerResult, start time.Time) {
	s.recordCounts(start, r.Triggered, r.Expired, len(r.Errors))
}

func (s *Service) recordCounts(start time.Time, triggered, expired, errors int) {
	end := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Runs++
	s.metrics.Triggered += triggered
	s.metrics.Expired += expired
	s.metrics.Errors += errors
	s.metrics.LastRun = end
	s.metrics.LastRunDuration = end.Sub(start).String()
}
