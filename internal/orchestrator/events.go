package orchestrator

import (
	"time"

	"github.com/GriffinCanCode/voicetask/internal/tasks"
)

// Stage is a step of a pipeline run.
type Stage int

const (
	Ready Stage = iota
	Capturing
	Transcribing
	Extracting
	Storing
)

func (s Stage) String() string {
	return [...]string{"ready", "capturing", "transcribing", "extracting", "storing"}[s]
}

// EventKind tags an Event.
type EventKind string

const (
	EventStatus     EventKind = "status"
	EventNotice     EventKind = "notice"
	EventTranscript EventKind = "transcript"
	EventTasks      EventKind = "tasks"
)

// Event is pushed to listeners as the pipeline progresses.
type Event struct {
	Kind     EventKind      `json:"type"`
	RunID    string         `json:"run_id,omitempty"`
	Stage    string         `json:"stage,omitempty"`
	Message  string         `json:"message,omitempty"`
	Language string         `json:"language,omitempty"`
	Code     string         `json:"code,omitempty"`
	Text     string         `json:"text,omitempty"`
	Tasks    []tasks.Record `json:"tasks,omitempty"`
	At       time.Time      `json:"at"`
}

// Status is the current pipeline state.
type Status struct {
	Stage          string    `json:"stage"`
	Message        string    `json:"message"`
	Language       string    `json:"language"`
	Busy           bool      `json:"busy"`
	Recording      bool      `json:"recording"`
	RunID          string    `json:"run_id,omitempty"`
	LastTranscript string    `json:"last_transcript,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Events returns the channel events are published on.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

func (o *Orchestrator) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	select {
	case o.events <- ev:
	default:
	}
}
