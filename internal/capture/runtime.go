// Package capture negotiates an audio encoding with a recording runtime and
// owns the lifecycle of one finite-duration recording.
//
// The Runtime interface is the seam to the device layer: package audio
// drives a real microphone and capturetest scripts a fake one.
package capture

import (
	"context"
	stderrors "errors"
	"time"
)

// Runtime errors a Runtime.Open implementation wraps.
var (
	ErrPermission = stderrors.New("microphone permission denied")
	ErrNoDevice   = stderrors.New("no compatible audio input device")
)

// Constraints configures the microphone stream.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	// SampleRate and ChannelCount are ignored when zero.
	SampleRate   int
	ChannelCount int
}

// DefaultConstraints enables all voice processing at the given rate and channel count.
func DefaultConstraints(sampleRate, channels int) Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       sampleRate,
		ChannelCount:     channels,
	}
}

// Stream is an open microphone stream.
type Stream interface {
	// Stop releases the underlying device tracks.
	Stop()
}

// RecorderOptions pins an encoding; zero fields leave the choice to the runtime.
type RecorderOptions struct {
	MimeType      string
	BitsPerSecond int
}

// EventKind tags a recorder Event.
type EventKind int

const (
	EventData EventKind = iota
	EventError
	// EventStopped is the last event a recorder sends.
	EventStopped
)

// Event is delivered by a Recorder while it runs.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Recorder encodes a stream and flushes fragments every timeslice.
type Recorder interface {
	Start(timeslice time.Duration, events chan<- Event) error
	// Stop asks the recorder to flush and finish; it confirms with EventStopped.
	// If Stop returns an error no EventStopped follows.
	Stop() error
	MimeType() string
}

// Runtime provides microphone access and encoders.
type Runtime interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
	IsTypeSupported(mimeType string) bool
	NewRecorder(s Stream, opts RecorderOptions) (Recorder, error)
}
