// Package thread manages the lifecycle of story threads and the association
// of new articles with them.
package thread

import (
	"time"

	"github.com/TobiSchelling/followup/internal/analyzer"
	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
)

// Rule names the lifecycle rule that produced a decision.
type Rule string

const (
	RuleNone        Rule = ""
	RuleResolved    Rule = "resolved"
	RuleDormant     Rule = "dormant"
	RuleStale       Rule = "stale"
	RuleRecommended Rule = "recommended"
	RuleFinal       Rule = "final"
)

// Decision is the outcome of one lifecycle sweep of a thread.
type Decision struct {
	OldStatus        database.ThreadStatus
	NewStatus        database.ThreadStatus
	Changed          bool
	Rule             Rule
	ResolutionType   *string
	ResolutionReason *string
}

// CanTransition reports whether a sweep may move a thread from one state to
// another. Nothing leaves resolved or dormant.
func CanTransition(from, to database.ThreadStatus) bool {
	switch from {
	case database.StatusDeveloping:
		return to == database.StatusMonitoring || to == database.StatusDormant || to == database.StatusResolved
	case database.StatusMonitoring:
		return to == database.StatusDormant || to == database.StatusResolved
	}
	return false
}

// Stale reports whether the thread has had no article for more than days
// days. A thread that never had one is stale.
func Stale(t *database.StoryThread, days int, now time.Time) bool {
	if t.LastArticleAt == nil {
		return true
	}
	return t.LastArticleAt.Before(now.AddDate(0, 0, -days))
}

// Decide applies the lifecycle rules in priority order: resolution, then
// dormancy, then the developing to monitoring downgrade, then the analyzer's
// recommendation. The first rule that applies wins.
func Decide(t *database.StoryThread, j analyzer.ThreadJudgment, now time.Time, policy config.Policy) Decision {
	d := Decision{OldStatus: t.Status, NewStatus: t.Status}
	if !t.Status.Active() {
		d.Rule = RuleFinal
		return d
	}

	move := func(to database.ThreadStatus, rule Rule) Decision {
		d.NewStatus, d.Changed, d.Rule = to, true, rule
		return d
	}

	switch {
	case j.IsResolved:
		d.ResolutionType = j.ResolutionType
		d.ResolutionReason = j.Reason
		return move(database.StatusResolved, RuleResolved)
	case Stale(t, policy.DormantStaleDays, now) && !j.ShouldContinueMonitoring:
		return move(database.StatusDormant, RuleDormant)
	case t.Status == database.StatusDeveloping && Stale(t, policy.MonitoringStaleDays, now):
		return move(database.StatusMonitoring, RuleStale)
	case j.RecommendedStatus != nil && *j.RecommendedStatus != t.Status && CanTransition(t.Status, *j.RecommendedStatus):
		return move(*j.RecommendedStatus, RuleRecommended)
	}
	return d
}
