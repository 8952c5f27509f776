package capture

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/voicetask/internal/errors"
	"github.com/GriffinCanCode/voicetask/internal/trace"
)

// Notice is an informational, non-fatal capture event.
type Notice struct {
	Code    errors.Code
	Elapsed time.Duration
}

// Session is one active recording. Fragments are buffered until Stop hands
// them over as a Payload; the buffer is released afterwards.
type Session struct {
	ctx    context.Context
	n      *Negotiator
	stream Stream
	rec    Recorder
	events chan Event

	notices chan Notice
	abort   chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	fragments [][]byte
	total     int
	dropped   int
	recErr    error
	started   time.Time
	ended     time.Time
	timer     *time.Timer

	stopOnce   sync.Once
	resultOnce sync.Once
	payload    Payload
	err        error
}

func newSession(ctx context.Context, n *Negotiator, stream Stream, rec Recorder) *Session {
	return &Session{
		ctx:     ctx,
		n:       n,
		stream:  stream,
		rec:     rec,
		events:  make(chan Event, eventBuffer),
		notices: make(chan Notice, 1),
		abort:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// run arms the duration cap and starts consuming recorder events.
func (s *Session) run(maxDuration time.Duration) {
	s.mu.Lock()
	s.started = time.Now()
	s.timer = time.AfterFunc(maxDuration, s.onCap)
	s.mu.Unlock()

	go s.loop()
}

func (s *Session) loop() {
	log := trace.Logger(s.ctx)
	defer s.finish()

	for {
		select {
		case ev := <-s.events:
			switch ev.Kind {
			case EventData:
				s.onData(ev.Data)
			case EventError:
				log.Warn("recorder error", "error", ev.Err)
				s.mu.Lock()
				if s.recErr == nil {
					s.recErr = ev.Err
				}
				s.mu.Unlock()
				go s.requestStop()
			case EventStopped:
				return
			}
		case <-s.abort:
			s.drain()
			return
		}
	}
}

// drain keeps fragments already queued when the recorder could not stop cleanly.
func (s *Session) drain() {
	for {
		select {
		case ev := <-s.events:
			if ev.Kind == EventData {
				s.onData(ev.Data)
			}
		default:
			return
		}
	}
}

func (s *Session) onData(data []byte) {
	if len(data) == 0 {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		trace.Logger(s.ctx).Debug("discarding empty audio fragment")
		return
	}
	frag := append([]byte(nil), data...)
	s.mu.Lock()
	s.fragments = append(s.fragments, frag)
	s.total += len(frag)
	s.mu.Unlock()
}

func (s *Session) onCap() {
	elapsed := s.Elapsed()
	trace.Logger(s.ctx).Info("maximum recording duration reached", "elapsed", elapsed)
	select {
	case s.notices <- Notice{Code: errors.MaxDurationReached, Elapsed: elapsed}:
	default:
	}
	s.requestStop()
}

// requestStop halts the timer and asks the recorder to finish, once.
func (s *Session) requestStop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.ended = time.Now()
		s.mu.Unlock()

		s.n.transition(Recording, Stopping)
		if err := s.rec.Stop(); err != nil {
			trace.Logger(s.ctx).Warn("recorder stop failed", "error", err)
			s.mu.Lock()
			if s.recErr == nil {
				s.recErr = err
			}
			s.mu.Unlock()
			close(s.abort)
		}
	})
}

// finish releases the device once the recorder has confirmed the end, which
// may happen without a stop request when the recorder quits on its own.
func (s *Session) finish() {
	s.mu.Lock()
	s.timer.Stop()
	if s.ended.IsZero() {
		s.ended = time.Now()
	}
	s.mu.Unlock()

	s.stream.Stop()
	s.n.setState(Idle)
	close(s.done)
}

// MimeType is the negotiated media type.
func (s *Session) MimeType() string { return s.rec.MimeType() }

// Notices delivers MaxDurationReached when the cap fires.
func (s *Session) Notices() <-chan Notice { return s.notices }

// Done is closed once the recording has ended and the device is released,
// whether by Stop, the duration cap, or a recorder failure.
func (s *Session) Done() <-chan struct{} { return s.done }

// Elapsed returns the recording time so far, or its total once stopped.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended.IsZero() {
		return s.ended.Sub(s.started)
	}
	return time.Since(s.started)
}

// Bytes returns the number of buffered audio bytes.
func (s *Session) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Stop ends the recording, waits for the recorder to confirm, and returns
// the payload. A recording with zero total bytes is EmptyRecording even if
// fragments arrived. Calling Stop again returns the same result.
func (s *Session) Stop(ctx context.Context) (Payload, error) {
	s.requestStop()
	select {
	case <-s.done:
	case <-ctx.Done():
		return Payload{}, errors.Wrap(ctx.Err(), errors.Cancelled, "waiting for recorder to stop")
	}
	s.resultOnce.Do(s.buildResult)
	return s.payload, s.err
}

func (s *Session) buildResult() {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := trace.Logger(s.ctx)
	log.Info("recording stopped", "bytes", s.total, "fragments", len(s.fragments), "empty_fragments", s.dropped)

	switch {
	case s.total > 0:
		data := make([]byte, 0, s.total)
		for _, f := range s.fragments {
			data = append(data, f...)
		}
		s.payload = Payload{Data: data, MimeType: s.rec.MimeType(), Duration: s.ended.Sub(s.started)}
		if s.recErr != nil {
			log.Warn("keeping partial recording after recorder error", "error", s.recErr)
		}
	case s.recErr != nil:
		s.err = errors.Wrap(s.recErr, errors.DeviceUnavailable, "recording failed before any audio was captured")
	default:
		s.err = errors.New(errors.EmptyRecording, "no audio was recorded")
	}
	s.fragments = nil
}
