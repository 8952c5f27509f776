// Package capturetest provides a scriptable capture.Runtime for tests: it
// fails on command, advertises a chosen set of media types, and lets the test
// push fragments and errors into a running recorder.
package capturetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/voicetask/internal/capture"
)

// DefaultMimeType is what a recorder built without options reports.
const DefaultMimeType = "audio/webm"

// Runtime is a fake capture.Runtime.
type Runtime struct {
	mu sync.Mutex

	// OpenErr is returned by Open when set.
	OpenErr error
	// Reject, when set, decides whether NewRecorder refuses opts.
	Reject func(opts capture.RecorderOptions) error
	// StartErr is returned by Recorder.Start when set.
	StartErr error
	// StopErr is returned by Recorder.Stop when set.
	StopErr error

	supported   map[string]bool
	constraints capture.Constraints
	attempts    []capture.RecorderOptions
	opened      int
	released    int
	recorders   []*Recorder
}

// New returns a runtime supporting the given media types.
func New(supported ...string) *Runtime {
	rt := &Runtime{supported: make(map[string]bool)}
	for _, mt := range supported {
		rt.supported[mt] = true
	}
	return rt
}

var _ capture.Runtime = (*Runtime)(nil)

func (rt *Runtime) Open(_ context.Context, c capture.Constraints) (capture.Stream, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.constraints = c
	if rt.OpenErr != nil {
		return nil, rt.OpenErr
	}
	rt.opened++
	return &stream{rt: rt}, nil
}

func (rt *Runtime) IsTypeSupported(mimeType string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.supported[mimeType]
}

func (rt *Runtime) NewRecorder(_ capture.Stream, opts capture.RecorderOptions) (capture.Recorder, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.attempts = append(rt.attempts, opts)
	if rt.Reject != nil {
		if err := rt.Reject(opts); err != nil {
			return nil, err
		}
	}
	mime := opts.MimeType
	if mime == "" {
		mime = DefaultMimeType
	}
	rec := &Recorder{rt: rt, mime: mime, opts: opts}
	rt.recorders = append(rt.recorders, rec)
	return rec, nil
}

// Attempts returns every option set NewRecorder was called with.
func (rt *Runtime) Attempts() []capture.RecorderOptions {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]capture.RecorderOptions(nil), rt.attempts...)
}

// Constraints returns the constraints of the last Open call.
func (rt *Runtime) Constraints() capture.Constraints {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.constraints
}

// Streams returns how many streams were opened and released.
func (rt *Runtime) Streams() (opened, released int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.opened, rt.released
}

// Recorder returns the most recently built recorder, or nil.
func (rt *Runtime) Recorder() *Recorder {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.recorders) == 0 {
		return nil
	}
	return rt.recorders[len(rt.recorders)-1]
}

type stream struct {
	rt   *Runtime
	once sync.Once
}

func (s *stream) Stop() {
	s.once.Do(func() {
		s.rt.mu.Lock()
		s.rt.released++
		s.rt.mu.Unlock()
	})
}

// Recorder is a fake capture.Recorder driven by the test.
type Recorder struct {
	rt   *Runtime
	mime string
	opts capture.RecorderOptions

	mu        sync.Mutex
	events    chan<- capture.Event
	timeslice time.Duration
	stopped   bool
}

var _ capture.Recorder = (*Recorder)(nil)

func (r *Recorder) Start(timeslice time.Duration, events chan<- capture.Event) error {
	r.rt.mu.Lock()
	err := r.rt.StartErr
	r.rt.mu.Unlock()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = events
	r.timeslice = timeslice
	return nil
}

func (r *Recorder) Stop() error {
	r.rt.mu.Lock()
	err := r.rt.StopErr
	r.rt.mu.Unlock()
	if err != nil {
		return err
	}
	r.finish()
	return nil
}

func (r *Recorder) MimeType() string { return r.mime }

// Options returns the options the recorder was built with.
func (r *Recorder) Options() capture.RecorderOptions { return r.opts }

// Timeslice returns the flush interval passed to Start.
func (r *Recorder) Timeslice() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeslice
}

// Emit delivers one fragment, which may be empty.
func (r *Recorder) Emit(data []byte) {
	r.send(capture.Event{Kind: capture.EventData, Data: data})
}

// Fail delivers a recorder error.
func (r *Recorder) Fail(err error) {
	r.send(capture.Event{Kind: capture.EventError, Err: err})
}

// Quit ends the recording from the runtime side without a Stop call.
func (r *Recorder) Quit() {
	r.finish()
}

func (r *Recorder) send(ev capture.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.events == nil {
		panic(fmt.Sprintf("capturetest: event %v on inactive recorder", ev.Kind))
	}
	r.events <- ev
}

func (r *Recorder) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.events == nil {
		return
	}
	r.stopped = true
	r.events <- capture.Event{Kind: capture.EventStopped}
}
