package store

import "time"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
)

// Media kinds mirror what the chat platform can attach to a card.
const (
	MediaPhoto     = "photo"
	MediaVideo     = "video"
	MediaAnimation = "animation"
)

// Prediction is one monthly post: media, body text, three option
// labels shown before a choice and three result labels shown after.
type Prediction struct {
	ID          int64
	Status      Status
	MediaKind   string
	MediaFileID string
	Body        string
	Options     [3]string
	Results     [3]string
	ScheduledAt *time.Time
	PublishedAt *time.Time
	CreatedBy   int64
	CreatedAt   time.Time
}

// Draft carries the authoring fields collected by the admin workflow.
type Draft struct {
	MediaKind   string
	MediaFileID string
	Body        string
	Options     [3]string
	Results     [3]string
	CreatedBy   int64
}

// Choice is a user's irreversible selection for one calendar month.
type Choice struct {
	UserID       int64
	PredictionID int64
	OptionIdx    int
	MonthKey     string
	ChosenAt     time.Time
}

// MonthKey derives the exclusivity scope ("YYYY-MM") from a publish
// time in the broadcast timezone.
func MonthKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01")
}
