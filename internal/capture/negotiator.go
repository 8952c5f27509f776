package capture

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/voicetask/internal/errors"
	"github.com/GriffinCanCode/voicetask/internal/trace"
)

// State of the negotiator.
type State int

const (
	Idle State = iota
	Requesting
	Recording
	Stopping
	Failed
)

func (s State) String() string {
	return [...]string{"idle", "requesting", "recording", "stopping", "failed"}[s]
}

// Defaults for Config fields left zero.
const (
	DefaultFlushInterval = time.Second
	DefaultBitsPerSecond = 128000
	DefaultMaxDuration   = 5 * time.Minute
	eventBuffer          = 16
)

// Config drives negotiation and recording.
type Config struct {
	Constraints   Constraints
	Encodings     []Encoding
	BitsPerSecond int
	FlushInterval time.Duration
	MaxDuration   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Encodings == nil {
		c.Encodings = DefaultEncodings
	}
	if c.BitsPerSecond < 0 {
		c.BitsPerSecond = 0
	} else if c.BitsPerSecond == 0 {
		c.BitsPerSecond = DefaultBitsPerSecond
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	return c
}

// Negotiator runs the Idle -> Requesting -> Recording -> Stopping -> Idle
// state machine. A failed start passes through Failed back to Idle. Only one
// Session is active at a time.
type Negotiator struct {
	rt  Runtime
	cfg Config

	mu     sync.Mutex
	state  State
	onMove func(from, to State)
}

// NewNegotiator creates a negotiator over rt.
func NewNegotiator(rt Runtime, cfg Config) *Negotiator {
	return &Negotiator{rt: rt, cfg: cfg.withDefaults()}
}

// State returns the current state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// WithHook sets a callback invoked after every state change.
func (n *Negotiator) WithHook(fn func(from, to State)) *Negotiator {
	n.mu.Lock()
	n.onMove = fn
	n.mu.Unlock()
	return n
}

func (n *Negotiator) setState(s State) {
	n.mu.Lock()
	from := n.state
	n.state = s
	hook := n.onMove
	n.mu.Unlock()
	if hook != nil && from != s {
		hook(from, s)
	}
}

// transition moves from -> to only if the current state is from.
func (n *Negotiator) transition(from, to State) {
	n.mu.Lock()
	moved := n.state == from
	if moved {
		n.state = to
	}
	hook := n.onMove
	n.mu.Unlock()
	if hook != nil && moved && from != to {
		hook(from, to)
	}
}

// begin moves Idle or Failed to Requesting.
func (n *Negotiator) begin() error {
	n.mu.Lock()
	from := n.state
	if from != Idle && from != Failed {
		n.mu.Unlock()
		return errors.Newf(errors.Busy, "capture already %s", from)
	}
	n.state = Requesting
	hook := n.onMove
	n.mu.Unlock()
	if hook != nil {
		hook(from, Requesting)
	}
	return nil
}

// RequestCapture opens the microphone. Permission and device failures are
// distinct codes.
func (n *Negotiator) RequestCapture(ctx context.Context) (Stream, error) {
	stream, err := n.rt.Open(ctx, n.cfg.Constraints)
	switch {
	case err == nil:
		return stream, nil
	case stderrors.Is(err, ErrPermission):
		return nil, errors.Wrap(err, errors.PermissionDenied, "microphone access denied")
	case ctx.Err() != nil:
		return nil, errors.Wrap(ctx.Err(), errors.Cancelled, "capture request cancelled")
	default:
		return nil, errors.Wrap(err, errors.DeviceUnavailable, "no usable microphone")
	}
}

// NegotiateEncoding picks the first supported candidate (or the runtime
// default when none is) and builds a recorder, dropping the bitrate hint and
// then all options when construction is rejected.
func (n *Negotiator) NegotiateEncoding(ctx context.Context, stream Stream) (Recorder, error) {
	log := trace.Logger(ctx)

	mime := ""
	for _, enc := range n.cfg.Encodings {
		if n.rt.IsTypeSupported(enc.MimeType()) {
			mime = enc.MimeType()
			break
		}
	}
	if mime == "" {
		log.Warn("no preferred encoding supported, using runtime default")
	}

	var lastErr error
	for _, opts := range fallbackOptions(mime, n.cfg.BitsPerSecond) {
		rec, err := n.rt.NewRecorder(stream, opts)
		if err == nil {
			log.Info("recorder ready", "mime", rec.MimeType(), "requested", opts.MimeType, "bps", opts.BitsPerSecond)
			return rec, nil
		}
		log.Debug("recorder options rejected", "mime", opts.MimeType, "bps", opts.BitsPerSecond, "error", err)
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, errors.EncodingUnsupported, "no supported audio encoding")
}

func fallbackOptions(mime string, bps int) []RecorderOptions {
	candidates := []RecorderOptions{
		{MimeType: mime, BitsPerSecond: bps},
		{MimeType: mime},
		{},
	}
	out := candidates[:0]
	seen := make(map[RecorderOptions]bool, len(candidates))
	for _, c := range candidates {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// Start requests the microphone, negotiates an encoding, and begins a
// recording flushed every FlushInterval and capped at MaxDuration.
func (n *Negotiator) Start(ctx context.Context) (*Session, error) {
	if err := n.begin(); err != nil {
		return nil, err
	}
	ctx, span := trace.StartSpan(ctx, "capture.start")

	sess, err := n.start(ctx)
	if err != nil {
		n.setState(Failed)
		n.setState(Idle)
	}
	span.Finish(ctx, err)
	return sess, err
}

func (n *Negotiator) start(ctx context.Context) (*Session, error) {
	stream, err := n.RequestCapture(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := n.NegotiateEncoding(ctx, stream)
	if err != nil {
		stream.Stop()
		return nil, err
	}

	s := newSession(trace.Detach(ctx), n, stream, rec)
	if err := rec.Start(n.cfg.FlushInterval, s.events); err != nil {
		stream.Stop()
		return nil, errors.Wrap(err, errors.DeviceUnavailable, "recorder failed to start")
	}
	n.setState(Recording)
	s.run(n.cfg.MaxDuration)
	return s, nil
}
