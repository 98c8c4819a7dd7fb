package v1

import "encoding/json"

type ContentStatus string

const (
	CONTENT_DRAFT     ContentStatus = "DRAFT"
	CONTENT_SCHEDULED ContentStatus = "SCHEDULED"
	CONTENT_PUBLISHED ContentStatus = "PUBLISHED" // Terminal
	CONTENT_FAILED    ContentStatus = "FAILED"    // Terminal
)

type ContentItem struct {
	// Required
	ContentID     string // guid. Also correlation ID for publish logs.
	OwnerID       string
	Body          string
	ContentStatus ContentStatus

	// Optional
	MediaReferences       []string   // image or video URLs, in display order
	TargetPlatforms       []Platform // declared fan-out order
	ScheduledAtEpochMilli int64      // 0 for immediate / draft
	PublishedAtEpochMilli int64
	PublishResults        string // JSON map of platform -> PublishOutcome
	CreatedAtEpochMilli   int64
	UpdatedAtEpochMilli   int64
}

type PublishOutcome struct {
	Success        bool   `json:"success"`
	PlatformPostID string `json:"platformPostId,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// OutcomeMap decodes the stored per-platform results. Returns an empty
// map when nothing has been recorded yet.
func (c *ContentItem) OutcomeMap() map[Platform]PublishOutcome {
	result := map[Platform]PublishOutcome{}
	if c.PublishResults == "" {
		return result
	}
	json.Unmarshal([]byte(c.PublishResults), &result)
	return result
}

func EncodeOutcomes(outcomes map[Platform]PublishOutcome) string {
	raw, err := json.Marshal(outcomes)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
