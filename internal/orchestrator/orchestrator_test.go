package orchestrator

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/voicetask/internal/capture"
	"github.com/GriffinCanCode/voicetask/internal/capture/capturetest"
	"github.com/GriffinCanCode/voicetask/internal/errors"
	"github.com/GriffinCanCode/voicetask/internal/language"
	"github.com/GriffinCanCode/voicetask/internal/persist"
	"github.com/GriffinCanCode/voicetask/internal/session"
	"github.com/GriffinCanCode/voicetask/internal/tasks"
	"github.com/GriffinCanCode/voicetask/internal/telemetry"
)

type memKV struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", persist.ErrNotFound
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) Close(context.Context) error { return nil }

func (m *memKV) failWrites(err error) {
	m.mu.Lock()
	m.setErr = err
	m.mu.Unlock()
}

type fakeTranscriber struct {
	mu      sync.Mutex
	text    string
	err     error
	delay   time.Duration
	onCall  func()
	calls   int
	payload capture.Payload
	cred    string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, p capture.Payload, cred string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payload, f.cred = p, cred
	return f.text, f.err
}

type fakeExtractor struct {
	mu      sync.Mutex
	records []tasks.Record
	err     error
	calls   int
	got     string
}

func (f *fakeExtractor) Extract(_ context.Context, transcript, _ string) ([]tasks.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.got = transcript
	return f.records, f.err
}

type fakeTelemetry struct {
	mu      sync.Mutex
	reports []telemetry.Report
}

func (f *fakeTelemetry) Record(_ context.Context, r telemetry.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

type fakeArchive struct {
	mu    sync.Mutex
	runs  []string
	sizes []int
}

func (f *fakeArchive) Archive(_ context.Context, runID string, p capture.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, runID)
	f.sizes = append(f.sizes, len(p.Data))
	return "recordings/" + runID, nil
}

type harness struct {
	t    *testing.T
	rt   *capturetest.Runtime
	kv   *memKV
	sess *session.Session
	tr   *fakeTranscriber
	ex   *fakeExtractor
	o    *Orchestrator
	seen []Event
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	return newHarnessWith(t, capture.Config{FlushInterval: 10 * time.Millisecond}, mutate)
}

func newHarnessWith(t *testing.T, capCfg capture.Config, mutate func(*Config)) *harness {
	t.Helper()
	ctx := context.Background()
	kv := &memKV{data: map[string]string{}}
	sess, err := session.Init(ctx, kv)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Login(ctx, "sk-test"); err != nil {
		t.Fatal(err)
	}

	rt := capturetest.New("audio/webm;codecs=opus")
	h := &harness{
		t:    t,
		rt:   rt,
		kv:   kv,
		sess: sess,
		tr:   &fakeTranscriber{text: "call John and send the report"},
		ex: &fakeExtractor{records: []tasks.Record{
			tasks.NewRecord("Call John", "high", nil, "Work"),
			tasks.NewRecord("Send the report", "normal", nil, "Work"),
		}},
	}
	cfg := Config{
		Capture:      capture.NewNegotiator(rt, capCfg),
		Transcriber:  h.tr,
		Extractor:    h.ex,
		Session:      sess,
		StallTimeout: time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.o = New(cfg)
	return h
}

func (h *harness) waitFor(pred func(Event) bool) Event {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.o.Events():
			h.seen = append(h.seen, ev)
			if pred(ev) {
				return ev
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for event; seen %+v", h.seen)
		}
	}
}

func (h *harness) drain() []Event {
	for {
		select {
		case ev := <-h.o.Events():
			h.seen = append(h.seen, ev)
		default:
			return h.seen
		}
	}
}

func isRecording(ev Event) bool {
	return ev.Kind == EventStatus && (ev.Message == msgRecording.en || ev.Message == msgRecording.nl)
}

// record runs the pipeline, emits fragments once recording and then stops.
func (h *harness) record(fragments ...[]byte) (Result, error) {
	h.t.Helper()
	stop := make(chan struct{})
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.o.Run(context.Background(), stop)
		done <- outcome{res, err}
	}()

	h.waitFor(isRecording)
	rec := h.rt.Recorder()
	for _, f := range fragments {
		rec.Emit(f)
	}
	close(stop)

	select {
	case out := <-done:
		h.drain()
		return out.res, out.err
	case <-time.After(2 * time.Second):
		h.t.Fatal("run did not finish")
		return Result{}, nil
	}
}

func (h *harness) messages() []string {
	var out []string
	for _, ev := range h.seen {
		if ev.Kind == EventStatus {
			out = append(out, ev.Message)
		}
	}
	return out
}

func (h *harness) find(kind EventKind) (Event, bool) {
	for _, ev := range h.seen {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

func TestRunSuccess(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.record([]byte("abc"), []byte("def"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{
		msgRequesting.en, msgRecording.en, msgProcessing.en,
		msgTranscribing.en, msgExtracting.en, msgStoring.en, msgReady.en,
	}
	if got := h.messages(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("status messages:\n got %q\nwant %q", got, want)
	}

	if string(h.tr.payload.Data) != "abcdef" || h.tr.cred != "sk-test" {
		t.Errorf("transcriber got %q with %q", h.tr.payload.Data, h.tr.cred)
	}
	if h.ex.got != "call John and send the report" {
		t.Errorf("extractor got %q", h.ex.got)
	}
	if res.Transcript != h.tr.text || len(res.Added) != 2 || len(res.Tasks) != 2 {
		t.Errorf("result = %+v", res)
	}
	for _, r := range res.Added {
		if r.CreatedAt.IsZero() {
			t.Error("added record not stamped")
		}
	}
	if n := h.sess.Store().Len(); n != 2 {
		t.Errorf("store has %d records, want 2", n)
	}

	if ev, ok := h.find(EventTranscript); !ok || ev.Text != h.tr.text || ev.RunID != res.RunID {
		t.Errorf("transcript event = %+v", ev)
	}
	if ev, ok := h.find(EventTasks); !ok || len(ev.Tasks) != 2 {
		t.Errorf("tasks event = %+v", ev)
	}

	st := h.o.Status()
	if st.Stage != "ready" || st.Busy || st.Recording || st.LastTranscript != h.tr.text || st.LastError != "" {
		t.Errorf("status = %+v", st)
	}
}

func TestRunRequiresCredential(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.sess.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := h.o.Run(context.Background(), nil)
	if !errors.IsCode(err, errors.Unauthenticated) {
		t.Errorf("err = %v, want Unauthenticated", err)
	}
}

func TestOneRunAtATime(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.waitFor(isRecording)

	if _, err := h.o.Run(context.Background(), nil); !errors.IsCode(err, errors.Busy) {
		t.Errorf("second run err = %v, want Busy", err)
	}
	if _, err := h.o.Start(context.Background()); !errors.IsCode(err, errors.Busy) {
		t.Errorf("second start err = %v, want Busy", err)
	}

	h.rt.Recorder().Emit([]byte("audio"))
	if err := h.o.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if err := h.o.StopRecording(); err != nil {
		t.Errorf("repeated StopRecording: %v", err)
	}
	h.o.Close()

	if h.o.Status().Busy {
		t.Error("still busy after run")
	}
	if err := h.o.StopRecording(); !errors.IsCode(err, errors.InvalidArgument) {
		t.Errorf("StopRecording with no run = %v", err)
	}
	if n := h.sess.Store().Len(); n != 2 {
		t.Errorf("store has %d records, want 2", n)
	}
}

func TestEmptyRecordingLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.record(nil, []byte{})
	if !errors.IsCode(err, errors.EmptyRecording) {
		t.Fatalf("err = %v, want EmptyRecording", err)
	}
	if h.tr.calls != 0 {
		t.Error("transcriber called for empty recording")
	}
	if h.sess.Store().Len() != 0 {
		t.Error("store mutated")
	}
	st := h.o.Status()
	if st.Stage != "ready" || !strings.HasPrefix(st.Message, "Error: ") || st.LastError != st.Message {
		t.Errorf("status = %+v", st)
	}
	if _, ok := h.find(EventTasks); ok {
		t.Error("tasks event emitted on failure")
	}
}

func TestFailureStatusUsesStoreLanguage(t *testing.T) {
	h := newHarness(t, nil)
	dutch := []tasks.Record{
		tasks.NewRecord("Jan bellen", "hoog", nil, "Werk"),
		tasks.NewRecord("Boodschappen doen", "normaal", nil, "Huishouden"),
	}
	h.sess.Store().Load(dutch)
	h.tr.err = errors.Remote(errors.TranscriptionFailed, 401, "Incorrect API key provided", nil)

	_, err := h.record([]byte("audio"))
	if !errors.IsCode(err, errors.TranscriptionFailed) {
		t.Fatalf("err = %v", err)
	}
	if h.ex.calls != 0 {
		t.Error("extractor called after transcription failure")
	}

	msgs := h.messages()
	if msgs[0] != msgRequesting.nl {
		t.Errorf("first status = %q, want Dutch", msgs[0])
	}
	want := "Fout: API Error: Incorrect API key provided"
	if last := msgs[len(msgs)-1]; last != want {
		t.Errorf("final status = %q, want %q", last, want)
	}
	if got := h.o.Status().Language; got != language.Dutch.String() {
		t.Errorf("status language = %q", got)
	}
	if h.sess.Store().Len() != 2 {
		t.Error("store mutated on failure")
	}
}

func TestExtractionFailureLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.err = errors.New(errors.MalformedExtraction, "reply is not JSON")

	_, err := h.record([]byte("audio"))
	if !errors.IsCode(err, errors.MalformedExtraction) {
		t.Fatalf("err = %v", err)
	}
	if h.sess.Store().Len() != 0 {
		t.Error("store mutated")
	}
	ev, _ := h.find(EventTranscript)
	if ev.Text == "" {
		t.Error("transcript should still be published")
	}
	if got := h.o.Status().Message; got != "Error: reply is not JSON" {
		t.Errorf("status = %q", got)
	}
}

func TestPermissionDeniedAddsRemediation(t *testing.T) {
	h := newHarness(t, nil)
	h.rt.OpenErr = capture.ErrPermission

	_, err := h.o.Run(context.Background(), nil)
	if !errors.IsCode(err, errors.PermissionDenied) {
		t.Fatalf("err = %v, want PermissionDenied", err)
	}
	h.drain()

	ev, ok := h.find(EventNotice)
	if !ok || ev.Message != msgMicHelp.en || ev.Code != "PERMISSION_DENIED" {
		t.Errorf("notice = %+v", ev)
	}
	if !strings.HasPrefix(h.o.Status().Message, "Error: ") {
		t.Errorf("status = %q", h.o.Status().Message)
	}
}

func TestStallUpdatesStatusWithoutCancelling(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.StallTimeout = 20 * time.Millisecond })
	h.tr.delay = 150 * time.Millisecond

	if _, err := h.record([]byte("audio")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, m := range h.messages() {
		if m == msgStalled.en {
			found = true
		}
	}
	if !found {
		t.Errorf("no stall message in %q", h.messages())
	}
	if h.sess.Store().Len() != 2 {
		t.Error("slow call should still complete")
	}
}

func TestPersistenceFailureKeepsAppend(t *testing.T) {
	h := newHarness(t, nil)
	h.kv.failWrites(stderrors.New("disk full"))

	res, err := h.record([]byte("audio"))
	if !errors.IsCode(err, errors.PersistenceWriteFailed) {
		t.Fatalf("err = %v, want PersistenceWriteFailed", err)
	}
	if len(res.Tasks) != 2 || h.sess.Store().Len() != 2 {
		t.Errorf("in-memory append lost: %d", h.sess.Store().Len())
	}
	if _, ok := h.find(EventTasks); !ok {
		t.Error("tasks event should still be emitted")
	}
}

func TestNoTasksNotice(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.records = nil

	if _, err := h.record([]byte("audio")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ev, ok := h.find(EventNotice)
	if !ok || ev.Message != msgNoTasks.en {
		t.Errorf("notice = %+v", ev)
	}
}

func TestMaxDurationNotice(t *testing.T) {
	h := newHarnessWith(t, capture.Config{MaxDuration: 200 * time.Millisecond}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := h.o.Run(context.Background(), nil)
		done <- err
	}()
	h.waitFor(isRecording)
	h.rt.Recorder().Emit([]byte("partial"))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cap did not stop the recording")
	}
	h.drain()

	ev, ok := h.find(EventNotice)
	if !ok || ev.Code != "MAX_DURATION_REACHED" || ev.Message != msgMaxDuration.en {
		t.Errorf("notice = %+v", ev)
	}
	if string(h.tr.payload.Data) != "partial" {
		t.Errorf("payload = %q", h.tr.payload.Data)
	}
}

func TestHooks(t *testing.T) {
	tel := &fakeTelemetry{}
	arc := &fakeArchive{}
	h := newHarness(t, func(c *Config) {
		c.Telemetry = tel
		c.Archive = arc
	})

	res, err := h.record([]byte("abcd"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	h.o.Close()

	if len(arc.runs) != 1 || arc.runs[0] != res.RunID || arc.sizes[0] != 4 {
		t.Errorf("archive calls = %v %v", arc.runs, arc.sizes)
	}
	if len(tel.reports) != 1 {
		t.Fatalf("got %d reports", len(tel.reports))
	}
	r := tel.reports[0]
	if r.RunID != res.RunID || r.Outcome != "ok" || r.Stage != "storing" || r.Tasks != 2 || r.AudioBytes != 4 {
		t.Errorf("report = %+v", r)
	}

	h.tr.err = errors.New(errors.EmptyTranscript, "no speech recognized")
	if _, err := h.record([]byte("x")); err == nil {
		t.Fatal("expected failure")
	}
	if got := tel.reports[1]; got.Outcome != "EMPTY_TRANSCRIPT" || got.Stage != "transcribing" {
		t.Errorf("failure report = %+v", got)
	}
}

func TestStageString(t *testing.T) {
	tests := []struct {
		s    Stage
		want string
	}{
		{Ready, "ready"},
		{Capturing, "capturing"},
		{Transcribing, "transcribing"},
		{Extracting, "extracting"},
		{Storing, "storing"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Stage(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestLogoutDuringRunKeepsSavedTasks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.sess.AppendTasks(ctx, "sk-test", []tasks.Record{tasks.NewRecord("Old task", "", nil, "")}); err != nil {
		t.Fatal(err)
	}
	h.tr.onCall = func() {
		if err := h.sess.Logout(ctx); err != nil {
			t.Errorf("Logout: %v", err)
		}
	}

	_, err := h.record([]byte("audio"))
	if !errors.IsCode(err, errors.Unauthenticated) {
		t.Fatalf("err = %v, want Unauthenticated", err)
	}
	if _, ok := h.find(EventTasks); ok {
		t.Error("no tasks event expected after logout")
	}
	saved, err := persist.LoadTasks(ctx, h.kv)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 || saved[0].Description != "Old task" {
		t.Errorf("saved snapshot = %+v, want only the old task", saved)
	}

	if err := h.sess.Login(ctx, "sk-test"); err != nil {
		t.Fatal(err)
	}
	if h.sess.Store().Len() != 1 {
		t.Errorf("tasks after re-login = %d, want 1", h.sess.Store().Len())
	}
}
