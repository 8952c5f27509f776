// Package audio is the PortAudio microphone runtime for the capture package.
// It records 16-bit PCM and flushes streaming WAV fragments.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/GriffinCanCode/voicetask/internal/capture"
)

// MimeType is the only encoding this runtime produces.
const MimeType = "audio/wav"

const framesPerBuffer = 1024

// Runtime opens the best available microphone through PortAudio.
type Runtime struct {
	excluded []string
}

var _ capture.Runtime = (*Runtime)(nil)

// NewRuntime initializes PortAudio. Devices whose name contains any of
// excluded (case-insensitive) are never opened.
func NewRuntime(excluded []string) (*Runtime, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &Runtime{excluded: excluded}, nil
}

// Close terminates PortAudio.
func (r *Runtime) Close() error {
	return portaudio.Terminate()
}

// Open picks an input device and opens a blocking stream on it.
// Voice processing constraints are not available through PortAudio.
func (r *Runtime) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		slog.Debug("voice processing constraints ignored by portaudio runtime")
	}

	dev, err := r.pickDevice()
	if err != nil {
		return nil, err
	}

	channels := c.ChannelCount
	if channels <= 0 || channels > dev.MaxInputChannels {
		channels = 1
	}
	rate := float64(c.SampleRate)
	if rate <= 0 {
		rate = dev.DefaultSampleRate
	}

	buf := make([]float32, framesPerBuffer*channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      rate,
		FramesPerBuffer: framesPerBuffer,
	}
	ps, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, classifyOpenError(err)
	}
	slog.Info("opened microphone", "device", dev.Name, "rate", rate, "channels", channels)

	return &stream{ps: ps, buf: buf, rate: int(rate), channels: channels}, nil
}

func (r *Runtime) pickDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrNoDevice, err)
	}
	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || isExcluded(dev.Name, r.excluded) || isLoopback(dev.Name) {
			continue
		}
		if best == nil || preferDevice(dev.Name, best.Name) {
			best = dev
		}
	}
	if best == nil {
		if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil && def.MaxInputChannels > 0 {
			return def, nil
		}
		return nil, capture.ErrNoDevice
	}
	return best, nil
}

// classifyOpenError maps OS refusals to capture.ErrPermission.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"permission", "not permitted", "access denied", "not allowed"} {
		if strings.Contains(msg, kw) {
			return fmt.Errorf("%w: %v", capture.ErrPermission, err)
		}
	}
	return fmt.Errorf("%w: %v", capture.ErrNoDevice, err)
}

func (r *Runtime) IsTypeSupported(mimeType string) bool {
	return mimeType == MimeType
}

// NewRecorder only builds WAV recorders. PCM bitrate is fixed by the stream
// format, so any other requested bitrate is rejected.
func (r *Runtime) NewRecorder(s capture.Stream, opts capture.RecorderOptions) (capture.Recorder, error) {
	st, ok := s.(*stream)
	if !ok {
		return nil, fmt.Errorf("stream %T not opened by this runtime", s)
	}
	if opts.MimeType != "" && opts.MimeType != MimeType {
		return nil, fmt.Errorf("unsupported mime type %q", opts.MimeType)
	}
	if bps := pcmBitrate(st.rate, st.channels); opts.BitsPerSecond != 0 && opts.BitsPerSecond != bps {
		return nil, fmt.Errorf("bitrate fixed at %d for 16-bit pcm", bps)
	}
	return &recorder{st: st, stop: make(chan struct{})}, nil
}

type stream struct {
	ps       *portaudio.Stream
	buf      []float32
	rate     int
	channels int
	once     sync.Once
}

func (s *stream) Stop() {
	s.once.Do(func() {
		_ = s.ps.Close()
	})
}

type recorder struct {
	st       *stream
	stop     chan struct{}
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

func (r *recorder) MimeType() string { return MimeType }

func (r *recorder) Start(timeslice time.Duration, events chan<- capture.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("recorder already started")
	}
	if err := r.st.ps.Start(); err != nil {
		return err
	}
	r.started = true
	go r.loop(timeslice, events)
	return nil
}

func (r *recorder) Stop() error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return fmt.Errorf("recorder not started")
	}
	r.stopOnce.Do(func() { close(r.stop) })
	return nil
}

// loop reads buffers until stopped, flushing every timeslice. The first
// non-empty fragment carries the WAV header.
func (r *recorder) loop(timeslice time.Duration, events chan<- capture.Event) {
	defer func() { events <- capture.Event{Kind: capture.EventStopped} }()

	enc := newWAVEncoder(r.st.rate, r.st.channels)
	lastFlush := time.Now()
	flush := func() {
		if data := enc.Flush(); len(data) > 0 {
			events <- capture.Event{Kind: capture.EventData, Data: data}
		}
		lastFlush = time.Now()
	}

	for {
		select {
		case <-r.stop:
			_ = r.st.ps.Stop()
			flush()
			return
		default:
		}

		if err := r.st.ps.Read(); err != nil {
			if err == portaudio.InputOverflowed {
				slog.Debug("audio input overflowed")
				continue
			}
			events <- capture.Event{Kind: capture.EventError, Err: err}
			flush()
			<-r.stop
			return
		}
		enc.Write(r.st.buf)

		if time.Since(lastFlush) >= timeslice {
			flush()
		}
	}
}

func isLoopback(name string) bool {
	for _, kw := range []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"} {
		if containsIgnoreCase(name, kw) {
			return true
		}
	}
	return false
}

func isExcluded(name string, excluded []string) bool {
	for _, ex := range excluded {
		if containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

// preferDevice prefers built-in microphones, then anything named like a mic.
func preferDevice(name, current string) bool {
	return deviceRank(name) > deviceRank(current)
}

func deviceRank(name string) int {
	switch {
	case containsIgnoreCase(name, "macbook"), containsIgnoreCase(name, "built-in"):
		return 2
	case containsIgnoreCase(name, "microphone"), containsIgnoreCase(name, "mic"):
		return 1
	default:
		return 0
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
