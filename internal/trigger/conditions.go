package trigger

import (
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/followup/internal/database"
)

// Condition holds the typed parameters of one trigger. The set of
// implementations is closed: one per trigger type plus UnknownCondition.
type Condition interface {
	Type() database.TriggerType
	condition()
}

// TimeBasedCondition fires when the thread has had no new article for
// DaysAfterLast days and the analyzer agrees a follow-up is due.
type TimeBasedCondition struct {
	DaysAfterLast int `json:"days_after_last,omitempty"`
}

// EngagementCondition fires when either threshold is reached.
type EngagementCondition struct {
	MinViews    int64 `json:"min_views,omitempty"`
	MinComments int64 `json:"min_comments,omitempty"`
}

// DateEventCondition fires DaysBefore days ahead of a dated event.
type DateEventCondition struct {
	Date       string `json:"date,omitempty"` // YYYY-MM-DD
	DaysBefore *int   `json:"days_before,omitempty"`
	EventName  string `json:"event_name,omitempty"`
}

// ResolutionCondition fires when news matching CheckKeywords appears.
type ResolutionCondition struct {
	CheckKeywords []string `json:"check_keywords,omitempty"`
	DaysBack      int      `json:"days_back,omitempty"`
}

// ScheduledCondition fires when news matching the thread's monitoring
// keywords appears.
type ScheduledCondition struct {
	DaysBack int `json:"days_back,omitempty"`
}

// UnknownCondition is decoded for trigger types this build does not know.
// It never fires.
type UnknownCondition struct {
	TypeName database.TriggerType
}

func (TimeBasedCondition) Type() database.TriggerType  { return database.TriggerTimeBased }
func (EngagementCondition) Type() database.TriggerType { return database.TriggerEngagement }
func (DateEventCondition) Type() database.TriggerType  { return database.TriggerDateEvent }
func (ResolutionCondition) Type() database.TriggerType { return database.TriggerResolution }
func (ScheduledCondition) Type() database.TriggerType  { return database.TriggerScheduled }
func (u UnknownCondition) Type() database.TriggerType  { return u.TypeName }

func (TimeBasedCondition) condition()  {}
func (EngagementCondition) condition() {}
func (DateEventCondition) condition()  {}
func (ResolutionCondition) condition() {}
func (ScheduledCondition) condition()  {}
func (UnknownCondition) condition()    {}

// Decode parses the stored conditions of a trigger of type t. Malformed
// JSON for a known type yields that type's zero record, so policy defaults
// apply; the error is returned for logging.
func Decode(t database.TriggerType, raw json.RawMessage) (Condition, error) {
	switch t {
	case database.TriggerTimeBased:
		return decodeInto[TimeBasedCondition](raw)
	case database.TriggerEngagement:
		return decodeInto[EngagementCondition](raw)
	case database.TriggerDateEvent:
		return decodeInto[DateEventCondition](raw)
	case database.TriggerResolution:
		return decodeInto[ResolutionCondition](raw)
	case database.TriggerScheduled:
		return decodeInto[ScheduledCondition](raw)
	}
	return UnknownCondition{TypeName: t}, nil
}

func decodeInto[C Condition](raw json.RawMessage) (Condition, error) {
	var c C
	if len(raw) == 0 || string(raw) == "null" {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		var zero C
		return zero, fmt.Errorf("decoding %s conditions: %w", zero.Type(), err)
	}
	return c, nil
}

// Encode serializes c for storage.
func Encode(c Condition) (json.RawMessage, error) {
	if _, ok := c.(UnknownCondition); ok {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding %s conditions: %w", c.Type(), err)
	}
	return b, nil
}

// MustEncode is Encode for conditions built in code, which always marshal.
func MustEncode(c Condition) json.RawMessage {
	b, err := Encode(c)
	if err != nil {
		panic(err)
	}
	return b
}
