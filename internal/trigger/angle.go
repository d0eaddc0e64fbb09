package trigger

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/TobiSchelling/followup/internal/database"
)

// AngleFor returns the editorial framing used when a trigger of type t fires.
func AngleFor(t database.TriggerType) string {
	switch t {
	case database.TriggerTimeBased:
		return "update"
	case database.TriggerDateEvent:
		return "preview"
	case database.TriggerResolution:
		return "breaking"
	case database.TriggerEngagement:
		return "deep dive"
	}
	return "follow-up"
}

// SuggestedAngle frames the thread title, e.g. "Preview: Council budget vote".
func SuggestedAngle(t database.TriggerType, title string) string {
	angle := AngleFor(t)
	r, size := utf8.DecodeRuneInString(angle)
	return string(unicode.ToUpper(r)) + angle[size:] + ": " + strings.TrimSpace(title)
}
