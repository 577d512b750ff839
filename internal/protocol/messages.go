package protocol

import "time"

// Segment is one timed utterance of recognized text. Start and End are
// seconds relative to session start.
type Segment struct {
	Text      string    `json:"text"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is the envelope broadcast on the bus and delivered to live
// subscribers.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Segment   *Segment  `json:"segment,omitempty"`
	Status    string    `json:"status,omitempty"`
	Current   int       `json:"current,omitempty"`
	Total     int       `json:"total,omitempty"`
	Percent   float64   `json:"percent,omitempty"`
	Depth     int       `json:"depth,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Event types.
const (
	EventSegment  = "segment"
	EventProgress = "progress"
	EventStatus   = "status"
	EventQueue    = "queue"
	EventPing     = "ping"
)

// Session status values carried by EventStatus.
const (
	StatusRecording  = "recording"
	StatusProcessing = "processing"
	StatusStopping   = "stopping"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

const (
	SubjectSegment  = "transcript.segment"
	SubjectProgress = "transcript.progress"
	SubjectStatus   = "session.status"
	SubjectQueue    = "pipeline.queue"
)
