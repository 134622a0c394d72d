package domain

import (
	"time"
)

// ActivityType identifies the kind of subscriber activity.
type ActivityType string

const (
	ActivityTypeCall ActivityType = "call"
	ActivityTypeSMS  ActivityType = "sms"
)

// ActivityDirection identifies inbound vs outbound activity.
type ActivityDirection string

const (
	DirectionIn  ActivityDirection = "in"
	DirectionOut ActivityDirection = "out"
)

// ActivityRecord is one row from the activity store. Records are immutable
// once written; the outlier detector and the scoring pipeline only read them.
type ActivityRecord struct {
	ID              string            `json:"id"`
	SubjectID       string            `json:"subjectId"`
	Timestamp       time.Time         `json:"timestamp"`
	ActivityType    ActivityType      `json:"activityType"`
	Direction       ActivityDirection `json:"direction"`
	PeerAddress     string            `json:"peerAddress"`
	DurationSeconds int               `json:"durationSeconds"`
	Location        string            `json:"location,omitempty"`
	NetworkType     string            `json:"networkType,omitempty"`
	IsRoaming       bool              `json:"isRoaming"`
	IsFraudFlagged  bool              `json:"isFraudFlagged"`
}
