package capture_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/GriffinCanCode/voicetask/internal/capture"
	"github.com/GriffinCanCode/voicetask/internal/capture/capturetest"
	"github.com/GriffinCanCode/voicetask/internal/errors"
)

func newNegotiator(rt capture.Runtime, maxDuration time.Duration) *capture.Negotiator {
	return capture.NewNegotiator(rt, capture.Config{
		Constraints:   capture.DefaultConstraints(48000, 1),
		FlushInterval: time.Second,
		MaxDuration:   maxDuration,
	})
}

func waitState(t *testing.T, n *capture.Negotiator, want capture.State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for n.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", n.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartStopProducesPayload(t *testing.T) {
	ctx := context.Background()
	rt := capturetest.New("audio/webm;codecs=opus", "audio/webm")
	n := newNegotiator(rt, time.Minute)

	sess, err := n.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if n.State() != capture.Recording {
		t.Errorf("state = %v, want Recording", n.State())
	}
	rec := rt.Recorder()
	if rec.Timeslice() != time.Second {
		t.Errorf("timeslice = %v, want 1s", rec.Timeslice())
	}
	if c := rt.Constraints(); !c.EchoCancellation || !c.NoiseSuppression || !c.AutoGainControl || c.SampleRate != 48000 {
		t.Errorf("constraints = %+v", c)
	}

	rec.Emit([]byte("abc"))
	rec.Emit(nil)
	rec.Emit([]byte("def"))

	payload, err := sess.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if string(payload.Data) != "abcdef" {
		t.Errorf("payload = %q, want fragments in arrival order", payload.Data)
	}
	if payload.MimeType != "audio/webm;codecs=opus" {
		t.Errorf("MimeType = %q", payload.MimeType)
	}
	if payload.FileName() != "recording.webm" {
		t.Errorf("FileName = %q", payload.FileName())
	}
	if n.State() != capture.Idle {
		t.Errorf("state after stop = %v, want Idle", n.State())
	}
	if opened, released := rt.Streams(); opened != 1 || released != 1 {
		t.Errorf("streams opened/released = %d/%d, want 1/1", opened, released)
	}

	again, err := sess.Stop(ctx)
	if err != nil || string(again.Data) != "abcdef" {
		t.Errorf("second Stop() = %q, %v; want same result", again.Data, err)
	}
}

func TestOnlyEmptyFragmentsIsEmptyRecording(t *testing.T) {
	ctx := context.Background()
	rt := capturetest.New("audio/webm")
	sess, err := newNegotiator(rt, time.Minute).Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rec := rt.Recorder()
	rec.Emit([]byte{})
	rec.Emit(nil)

	_, err = sess.Stop(ctx)
	if !errors.IsCode(err, errors.EmptyRecording) {
		t.Fatalf("Stop() error = %v, want EmptyRecording", err)
	}
}

func TestNegotiationOrder(t *testing.T) {
	tests := []struct {
		name      string
		supported []string
		want      string
	}{
		{"first choice", []string{"audio/webm;codecs=opus", "audio/ogg;codecs=opus"}, "audio/webm;codecs=opus"},
		{"ogg before mp4", []string{"audio/mp4", "audio/ogg;codecs=opus"}, "audio/ogg;codecs=opus"},
		{"mp4 only", []string{"audio/mp4"}, "audio/mp4"},
		{"wav only", []string{"audio/wav"}, "audio/wav"},
		{"nothing supported uses runtime default", nil, capturetest.DefaultMimeType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := capturetest.New(tt.supported...)
			n := newNegotiator(rt, time.Minute)
			rec, err := n.NegotiateEncoding(context.Background(), nil)
			if err != nil {
				t.Fatalf("NegotiateEncoding() error = %v", err)
			}
			if rec.MimeType() != tt.want {
				t.Errorf("MimeType = %q, want %q", rec.MimeType(), tt.want)
			}
			if got := rt.Attempts()[0].BitsPerSecond; got != 128000 {
				t.Errorf("first attempt bitrate = %d, want 128000", got)
			}
		})
	}
}

func TestBitrateFallback(t *testing.T) {
	rt := capturetest.New("audio/webm")
	rt.Reject = func(opts capture.RecorderOptions) error {
		if opts.BitsPerSecond != 0 {
			return fmt.Errorf("bitrate not supported")
		}
		return nil
	}
	rec, err := newNegotiator(rt, time.Minute).NegotiateEncoding(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.(*capturetest.Recorder).Options(); got != (capture.RecorderOptions{MimeType: "audio/webm"}) {
		t.Errorf("options = %+v, want mime without bitrate", got)
	}
}

func TestNoOptionsFallback(t *testing.T) {
	rt := capturetest.New("audio/webm")
	rt.Reject = func(opts capture.RecorderOptions) error {
		if opts != (capture.RecorderOptions{}) {
			return fmt.Errorf("rejected")
		}
		return nil
	}
	_, err := newNegotiator(rt, time.Minute).NegotiateEncoding(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(rt.Attempts()); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestEncodingUnsupported(t *testing.T) {
	ctx := context.Background()
	rt := capturetest.New("audio/webm")
	rt.Reject = func(capture.RecorderOptions) error { return fmt.Errorf("no encoder") }
	n := newNegotiator(rt, time.Minute)
	var moves []string
	n.WithHook(func(from, to capture.State) {
		moves = append(moves, from.String()+">"+to.String())
	})

	_, err := n.Start(ctx)
	if !errors.IsCode(err, errors.EncodingUnsupported) {
		t.Fatalf("Start() error = %v, want EncodingUnsupported", err)
	}
	if n.State() != capture.Idle {
		t.Errorf("state = %v, want Idle", n.State())
	}
	want := []string{
		capture.Idle.String() + ">" + capture.Requesting.String(),
		capture.Requesting.String() + ">" + capture.Failed.String(),
		capture.Failed.String() + ">" + capture.Idle.String(),
	}
	if fmt.Sprint(moves) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", moves, want)
	}
	if opened, released := rt.Streams(); opened != released {
		t.Errorf("stream leaked: opened %d, released %d", opened, released)
	}
}

func TestRequestCaptureErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.Code
	}{
		{"permission", fmt.Errorf("NotAllowedError: %w", capture.ErrPermission), errors.PermissionDenied},
		{"no device", capture.ErrNoDevice, errors.DeviceUnavailable},
		{"other", stderrors.New("device busy"), errors.DeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := capturetest.New("audio/webm")
			rt.OpenErr = tt.err
			n := newNegotiator(rt, time.Minute)

			_, err := n.Start(context.Background())
			if !errors.IsCode(err, tt.want) {
				t.Fatalf("Start() error = %v, want %v", err, tt.want)
			}
			if n.State() != capture.Idle {
				t.Errorf("state = %v, want Idle", n.State())
			}

			// A failed attempt does not block the next one.
			rt.OpenErr = nil
			sess, err := n.Start(context.Background())
			if err != nil {
				t.Fatalf("retry Start() error = %v", err)
			}
			rt.Recorder().Emit([]byte{1})
			_, _ = sess.Stop(context.Background())
		})
	}
}

func TestSecondStartIsBusy(t *testing.T) {
	ctx := context.Background()
	rt := capturetest.New("audio/webm")
	n := newNegotiator(rt, time.Minute)
	sess, err := n.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := n.Start(ctx); !errors.IsCode(err, errors.Busy) {
		t.Errorf("second Start() error = %v, want Busy", err)
	}
	rt.Recorder().Emit([]byte{1})
	_, _ = sess.Stop(ctx)
}

func TestMaxDurationAutoStops(t *testing.T) {
	ctx := context.Background()
	rt := capturetest.New("audio/webm")
	n := newNegotiator(rt, 100*time.Millisecond)

	sess, err := n.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rt.Recorder().Emit([]byte("partial"))

	select {
	case notice := <-sess.Notices():
		if notice.Code != errors.MaxDurationReached {
			t.Errorf("notice = %v, want MaxDurationReached", notice.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("no MaxDurationReached notice")
	}
	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop at the cap")
	}

	payload, err := sess.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() after cap error = %v", err)
	}
	if string(payload.Data) != "partial" {
		t.Errorf("payload = %q", payload.Data)
	}
	waitState(t, n, capture.Idle)
}

func TestStopHaltsCapTimer(t *testing.T) {
	ctx := context.Background()
	rt := capturetest.New("audio/webm")
	sess, err := newNegotiator(rt, 30*time.Millisecond).Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rt.Recorder().Emit([]byte{1})
	if _, err := sess.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case <-sess.Notices():
		t.Error("cap notice fired after an explicit stop")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestRecorderErrorKeepsPartialData(t *testing.T) {
	ctx := context.Background()
	rt := capturetest.New("audio/webm")
	sess, err := newNegotiator(rt, time.Minute).Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rec := rt.Recorder()
	rec.Emit([]byte("early"))
	rec.Fail(stderrors.New("track ended"))

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("recorder error should end the session")
	}
	payload, err := sess.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v, want partial payload", err)
	}
	if string(payload.Data) != "early" {
		t.Errorf("payload = %q", payload.Data)
	}
}

func TestRecorderErrorWithoutData(t *testing.T) {
	ctx := context.Background()
	rt := capturetest.New("audio/webm")
	sess, _ := newNegotiator(rt, time.Minute).Start(ctx)
	rt.Recorder().Fail(stderrors.New("track ended"))

	_, err := sess.Stop(ctx)
	if !errors.IsCode(err, errors.DeviceUnavailable) {
		t.Errorf("Stop() error = %v, want DeviceUnavailable", err)
	}
}

func TestStopFailureReleasesDevice(t *testing.T) {
	ctx := context.Background()
	rt := capturetest.New("audio/webm")
	n := newNegotiator(rt, time.Minute)
	sess, _ := n.Start(ctx)
	rt.Recorder().Emit([]byte("x"))
	rt.StopErr = stderrors.New("invalid state")

	payload, err := sess.Stop(ctx)
	if err != nil || string(payload.Data) != "x" {
		t.Errorf("Stop() = %q, %v", payload.Data, err)
	}
	if _, released := rt.Streams(); released != 1 {
		t.Error("stream should be released even when the recorder cannot stop")
	}
	waitState(t, n, capture.Idle)
}

func TestPayloadFileName(t *testing.T) {
	tests := map[string]string{
		"audio/webm;codecs=opus": "recording.webm",
		"audio/ogg;codecs=opus":  "recording.ogg",
		"audio/mp4":              "recording.m4a",
		"audio/wav":              "recording.wav",
		"AUDIO/MPEG":             "recording.mp3",
		"":                       "recording.webm",
	}
	for mime, want := range tests {
		if got := (capture.Payload{MimeType: mime}).FileName(); got != want {
			t.Errorf("FileName(%q) = %q, want %q", mime, got, want)
		}
	}
}
