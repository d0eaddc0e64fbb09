package database

import (
	"encoding/json"
	"time"
)

// ThreadStatus is the lifecycle state of a story thread.
type ThreadStatus string

const (
	StatusDeveloping ThreadStatus = "developing"
	StatusMonitoring ThreadStatus = "monitoring"
	StatusDormant    ThreadStatus = "dormant"
	StatusResolved   ThreadStatus = "resolved"
)

// Valid reports whether s is one of the known thread states.
func (s ThreadStatus) Valid() bool {
	switch s {
	case StatusDeveloping, StatusMonitoring, StatusDormant, StatusResolved:
		return true
	}
	return false
}

// Active reports whether threads in this state are still swept and matched.
func (s ThreadStatus) Active() bool {
	return s == StatusDeveloping || s == StatusMonitoring
}

// TriggerType selects the policy a follow-up trigger is evaluated with.
type TriggerType string

const (
	TriggerTimeBased  TriggerType = "time_based"
	TriggerEngagement TriggerType = "engagement"
	TriggerDateEvent  TriggerType = "date_event"
	TriggerResolution TriggerType = "resolution"
	TriggerScheduled  TriggerType = "scheduled"
)

// TriggerStatus is the state of a follow-up trigger.
type TriggerStatus string

const (
	TriggerPending   TriggerStatus = "pending"
	TriggerTriggered TriggerStatus = "triggered"
	TriggerExpired   TriggerStatus = "expired"
)

// AdditionType records why an article was linked to a thread.
type AdditionType string

const (
	AdditionOrigin      AdditionType = "origin"
	AdditionDevelopment AdditionType = "development"
	AdditionUpdate      AdditionType = "update"
)

// Region is the tenant scope that owns articles and threads.
type Region struct {
	ID        int64
	Slug      string
	Name      string
	CreatedAt time.Time
}

// Article is a published content item.
type Article struct {
	ID             int64
	URL            string
	Title          string
	Source         *string
	Content        *string
	ContentFetched bool
	PublishedAt    *time.Time
	Views          int64
	Comments       int64
	Shares         int64
	CreatedAt      time.Time
	RegionIDs      []int64 // in association order
}

// PrimaryRegion returns the first associated region, if any.
func (a *Article) PrimaryRegion() (int64, bool) {
	if len(a.RegionIDs) == 0 {
		return 0, false
	}
	return a.RegionIDs[0], true
}

// NewArticle holds the fields needed to insert an article.
type NewArticle struct {
	URL         string
	Title       string
	Source      *string
	Content     *string
	PublishedAt *time.Time
	Views       int64
	Comments    int64
	Shares      int64
}

// KeyPerson is a person central to a story thread.
type KeyPerson struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// StoryThread is a cluster of articles tracking one ongoing story.
type StoryThread struct {
	ID                 int64
	RegionID           int64
	Title              string
	Summary            *string
	Status             ThreadStatus
	MonitoringKeywords []string
	KeyPeople          []KeyPerson
	LastArticleAt      *time.Time
	TotalViews         int64
	TotalComments      int64
	ResolutionType     *string
	ResolutionReason   *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewThread holds the fields needed to create a thread.
type NewThread struct {
	RegionID           int64
	Title              string
	Summary            *string
	MonitoringKeywords []string
	KeyPeople          []KeyPerson
}

// FollowUpTrigger is a scheduled check attached to one thread.
type FollowUpTrigger struct {
	ID              int64
	ThreadID        int64
	Type            TriggerType
	Conditions      json.RawMessage
	Status          TriggerStatus
	CheckCount      int
	NextCheckAt     time.Time
	ExpiresAt       *time.Time
	TriggeredAt     *time.Time
	TriggeredReason *string
	TriggeredData   json.RawMessage
	CreatedAt       time.Time
}

// NewTrigger holds the fields needed to create a trigger.
type NewTrigger struct {
	ThreadID    int64
	Type        TriggerType
	Conditions  json.RawMessage
	NextCheckAt time.Time
	ExpiresAt   *time.Time
}

// FollowUpRequest is emitted to the editorial queue whenever a trigger fires.
type FollowUpRequest struct {
	ID             string          `json:"id"`
	ThreadID       int64           `json:"thread_id"`
	TriggerID      int64           `json:"trigger_id"`
	Reason         string          `json:"reason"`
	Priority       float64         `json:"priority"`
	SuggestedAngle string          `json:"suggested_angle"`
	SearchData     json.RawMessage `json:"search_data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	EmittedAt      *time.Time      `json:"-"`
	Attempts       int             `json:"-"`
	LastError      *string         `json:"-"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	Regions            int                  `json:"regions"`
	Articles           int                  `json:"articles"`
	ThreadedArticles   int                  `json:"threaded_articles"`
	Threads            map[ThreadStatus]int `json:"threads"`
	PendingTriggers    int                  `json:"pending_triggers"`
	TriggeredTriggers  int                  `json:"triggered_triggers"`
	ExpiredTriggers    int                  `json:"expired_triggers"`
	FollowUps          int                  `json:"follow_ups"`
	UnemittedFollowUps int                  `json:"unemitted_follow_ups"`
}
