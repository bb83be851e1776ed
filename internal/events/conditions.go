package events

import (
	"errors"
	"sort"

	"github.com/samber/lo"

	"github.com/reel-study/backend/internal/tracker"
)

// DefaultCollection receives events whose condition is not a known study arm.
const DefaultCollection = "events"

// UnknownValue fills missing study_type and condition fields.
const UnknownValue = "unknown"

// AnonymousParticipant fills a missing participant_id.
const AnonymousParticipant = "anonymous"

// ErrUnknownCondition is returned when a caller names a table that is not routed.
var ErrUnknownCondition = errors.New("unknown condition")

// Collections maps each study condition to its table.
var Collections = map[string]string{
	"reel_carousel": "reel_carousel_events",
	"feed_carousel": "feed_carousel_events",
	"feed_video":    "feed_video_events",
	"reel_video":    "reel_video_events",
}

// CollectionFor picks the table for an event: condition first, then study type, then the fallback.
func CollectionFor(studyType, condition string) string {
	if name, ok := Collections[condition]; ok {
		return name
	}
	if name, ok := Collections[studyType]; ok {
		return name
	}
	return DefaultCollection
}

// ConditionOf resolves the condition of an incoming event.
func ConditionOf(studyType string, props tracker.Properties) string {
	if c, ok := props["condition"].(string); ok && c != "" {
		return c
	}
	if studyType != "" {
		return studyType
	}
	return UnknownValue
}

// Conditions returns the routed condition names in stable order.
func Conditions() []string {
	names := lo.Keys(Collections)
	sort.Strings(names)
	return names
}

// knownTable guards table names before they are spliced into SQL.
func knownTable(table string) bool {
	return table == DefaultCollection || lo.Contains(lo.Values(Collections), table)
}
