// Package orchestrator runs the voice pipeline: capture, transcription,
// task extraction and storage, reporting a localized status at every step.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/voicetask/internal/archive"
	"github.com/GriffinCanCode/voicetask/internal/capture"
	"github.com/GriffinCanCode/voicetask/internal/errors"
	"github.com/GriffinCanCode/voicetask/internal/language"
	"github.com/GriffinCanCode/voicetask/internal/session"
	"github.com/GriffinCanCode/voicetask/internal/syncx"
	"github.com/GriffinCanCode/voicetask/internal/tasks"
	"github.com/GriffinCanCode/voicetask/internal/telemetry"
	"github.com/GriffinCanCode/voicetask/internal/trace"
)

// Capturer starts a recording session.
type Capturer interface {
	Start(ctx context.Context) (*capture.Session, error)
}

// Transcriber turns a recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, p capture.Payload, credential string) (string, error)
}

// Extractor turns a transcript into task records.
type Extractor interface {
	Extract(ctx context.Context, transcript, credential string) ([]tasks.Record, error)
}

// Config wires the pipeline. Telemetry and Archive are optional.
type Config struct {
	Capture      Capturer
	Transcriber  Transcriber
	Extractor    Extractor
	Session      *session.Session
	Telemetry    telemetry.Recorder
	Archive      archive.Archiver
	StallTimeout time.Duration
}

// Result is the outcome of a successful run.
type Result struct {
	RunID      string
	Transcript string
	Added      []tasks.Record
	Tasks      []tasks.Record
}

// Orchestrator admits one pipeline run at a time.
type Orchestrator struct {
	cfg    Config
	events chan Event
	status *syncx.RWGuard[Status]
	busy   atomic.Bool
	now    func() time.Time

	mu       sync.Mutex
	stop     chan struct{}
	stopOnce *sync.Once

	bg sync.WaitGroup
}

// New creates an orchestrator in the Ready stage.
func New(cfg Config) *Orchestrator {
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	o := &Orchestrator{
		cfg:    cfg,
		events: make(chan Event, EventBuffer),
		now:    time.Now,
	}
	lang := o.language()
	o.status = syncx.NewGuard(Status{
		Stage:     Ready.String(),
		Message:   msgReady.in(lang),
		Language:  lang.String(),
		UpdatedAt: o.now(),
	})
	return o
}

// Status returns the current pipeline state.
func (o *Orchestrator) Status() Status {
	s := o.status.Get()
	s.Busy = o.busy.Load()
	return s
}

// Run executes one pipeline run and blocks until it ends. Closing stop ends
// the recording; the remote calls that follow are not cancelled by ctx.
func (o *Orchestrator) Run(ctx context.Context, stop <-chan struct{}) (Result, error) {
	runID, err := o.acquire()
	if err != nil {
		return Result{}, err
	}
	defer o.release()
	return o.run(ctx, runID, stop)
}

// Start begins a run in the background and returns its id. StopRecording
// ends its recording.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	runID, err := o.acquire()
	if err != nil {
		return "", err
	}
	stop := make(chan struct{})
	o.mu.Lock()
	o.stop, o.stopOnce = stop, new(sync.Once)
	o.mu.Unlock()

	ctx = trace.Detach(ctx)
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		defer o.release()
		_, _ = o.run(ctx, runID, stop)
	}()
	return runID, nil
}

// StopRecording ends the recording of the run begun by Start.
func (o *Orchestrator) StopRecording() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stop == nil {
		return errors.New(errors.InvalidArgument, "no recording in progress")
	}
	stop := o.stop
	o.stopOnce.Do(func() { close(stop) })
	return nil
}

// Close waits for background runs, uploads and reports to finish.
func (o *Orchestrator) Close() {
	o.bg.Wait()
}

func (o *Orchestrator) acquire() (string, error) {
	if !o.cfg.Session.Authenticated() {
		return "", errors.New(errors.Unauthenticated, "log in with an API key first")
	}
	if !o.busy.CompareAndSwap(false, true) {
		return "", errors.New(errors.Busy, "a recording is already being processed")
	}
	return uuid.NewString(), nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.stop, o.stopOnce = nil, nil
	o.mu.Unlock()
	o.busy.Store(false)
}

func (o *Orchestrator) run(ctx context.Context, runID string, stop <-chan struct{}) (res Result, err error) {
	ctx, span := trace.StartSpan(ctx, "pipeline_run")
	span.SetAttr("run_id", runID)
	res.RunID = runID

	credential := o.cfg.Session.Credential()
	store := o.cfg.Session.Store()
	report := telemetry.Report{RunID: runID, At: o.now()}
	enter := func(st Stage, p phrase) {
		report.Stage = st.String()
		o.enter(runID, st, p)
	}
	defer func() {
		o.finish(ctx, runID, &report, err)
		span.Finish(ctx, err)
	}()

	enter(Capturing, msgRequesting)
	payload, err := o.capture(ctx, runID, stop)
	report.AudioBytes, report.Audio = len(payload.Data), payload.Duration
	if err != nil {
		return res, err
	}
	o.archive(ctx, runID, payload)

	// The remote calls run to completion once issued.
	callCtx := trace.Detach(ctx)

	enter(Transcribing, msgTranscribing)
	start := o.now()
	text, err := stallGuard(o, runID, Transcribing, func() (string, error) {
		return o.cfg.Transcriber.Transcribe(callCtx, payload, credential)
	})
	report.Transcribe = o.now().Sub(start)
	if err != nil {
		return res, err
	}
	res.Transcript = text
	o.status.Update(func(s *Status) error {
		s.LastTranscript = text
		return nil
	})
	o.emit(Event{Kind: EventTranscript, RunID: runID, Stage: Transcribing.String(), Text: text})

	enter(Extracting, msgExtracting)
	start = o.now()
	records, err := stallGuard(o, runID, Extracting, func() ([]tasks.Record, error) {
		return o.cfg.Extractor.Extract(callCtx, text, credential)
	})
	report.Extract = o.now().Sub(start)
	if err != nil {
		return res, err
	}

	enter(Storing, msgStoring)
	added, err := o.cfg.Session.AppendTasks(ctx, credential, records)
	switch {
	case errors.IsCode(err, errors.Unauthenticated):
		return res, err
	case errors.IsCode(err, errors.InvalidArgument):
		return res, errors.Wrap(err, errors.MalformedExtraction, "extracted task rejected")
	}
	// A failed save keeps the in-memory append, so listeners still get the list.
	res.Added, res.Tasks = added, store.Snapshot()
	report.Tasks = len(added)
	o.emit(Event{Kind: EventTasks, RunID: runID, Stage: Storing.String(), Tasks: res.Tasks})
	if err != nil {
		return res, err
	}
	if len(added) == 0 {
		o.notice(runID, errors.Unknown, msgNoTasks)
	}
	trace.Logger(ctx).Info("pipeline run complete", "run_id", runID, "added", len(added), "total", len(res.Tasks))
	return res, nil
}

// capture records until stop is closed, the session ends on its own, or ctx
// is cancelled, then hands back the payload.
func (o *Orchestrator) capture(ctx context.Context, runID string, stop <-chan struct{}) (capture.Payload, error) {
	sess, err := o.cfg.Capture.Start(ctx)
	if err != nil {
		return capture.Payload{}, err
	}
	o.setRecording(true)
	defer o.setRecording(false)
	o.say(runID, Capturing, msgRecording)

	cancelled := false
wait:
	for {
		select {
		case <-stop:
			break wait
		case <-sess.Done():
			break wait
		case n := <-sess.Notices():
			o.onNotice(runID, n)
		case <-ctx.Done():
			cancelled = true
			break wait
		}
	}
	select {
	case n := <-sess.Notices():
		o.onNotice(runID, n)
	default:
	}

	o.say(runID, Capturing, msgProcessing)
	payload, err := sess.Stop(trace.Detach(ctx))
	if err == nil && cancelled {
		err = errors.Wrap(ctx.Err(), errors.Cancelled, "run cancelled")
	}
	return payload, err
}

func (o *Orchestrator) onNotice(runID string, n capture.Notice) {
	if n.Code == errors.MaxDurationReached {
		o.notice(runID, n.Code, msgMaxDuration)
	}
}

// stallGuard runs fn, switching the status to a "still working" message if it
// outlasts the stall timeout. fn is never interrupted.
func stallGuard[T any](o *Orchestrator, runID string, st Stage, fn func() (T, error)) (T, error) {
	t := time.AfterFunc(o.cfg.StallTimeout, func() {
		o.say(runID, st, msgStalled)
	})
	defer t.Stop()
	return fn()
}

func (o *Orchestrator) archive(ctx context.Context, runID string, p capture.Payload) {
	if o.cfg.Archive == nil {
		return
	}
	ctx = trace.Detach(ctx)
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()
		key, err := o.cfg.Archive.Archive(ctx, runID, p)
		if err != nil {
			trace.Logger(ctx).Warn("recording archive failed", "run_id", runID, "error", err)
			return
		}
		trace.Logger(ctx).Debug("recording archived", "run_id", runID, "key", key)
	}()
}

func (o *Orchestrator) finish(ctx context.Context, runID string, report *telemetry.Report, err error) {
	lang := o.language()
	report.Language = lang.String()
	if err == nil {
		report.Outcome = "ok"
		o.enter(runID, Ready, msgReady)
	} else {
		report.Outcome = errors.CodeOf(err).String()
		o.fail(ctx, runID, lang, err)
	}

	if o.cfg.Telemetry == nil {
		return
	}
	rctx, cancel := context.WithTimeout(trace.Detach(ctx), telemetryTimeout)
	defer cancel()
	if err := o.cfg.Telemetry.Record(rctx, *report); err != nil {
		trace.Logger(ctx).Warn("run report failed", "run_id", runID, "error", err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, runID string, lang language.Language, err error) {
	msg := msgError.format(lang, userMessage(err))
	code := errors.CodeOf(err)
	trace.Logger(ctx).Warn("pipeline run failed", "run_id", runID, "code", code.String(), "error", err)

	o.status.Update(func(s *Status) error {
		s.Stage = Ready.String()
		s.Message = msg
		s.Language = lang.String()
		s.LastError = msg
		s.UpdatedAt = o.now()
		return nil
	})
	o.emit(Event{Kind: EventStatus, RunID: runID, Stage: Ready.String(), Message: msg, Language: lang.String(), Code: code.String()})
	if code == errors.PermissionDenied {
		o.notice(runID, code, msgMicHelp)
	}
}

// userMessage is the text embedded in the error status.
func userMessage(err error) string {
	appErr, ok := errors.As(err)
	if !ok {
		return err.Error()
	}
	switch appErr.Code {
	case errors.TranscriptionFailed, errors.ExtractionFailed:
		return "API Error: " + appErr.Message
	default:
		return appErr.Message
	}
}

// enter moves to st, evaluating the display language now.
func (o *Orchestrator) enter(runID string, st Stage, p phrase) {
	lang := o.language()
	msg := p.in(lang)
	o.status.Update(func(s *Status) error {
		s.Stage = st.String()
		s.Message = msg
		s.Language = lang.String()
		s.RunID = runID
		if st == Capturing {
			s.LastError = ""
		}
		s.UpdatedAt = o.now()
		return nil
	})
	o.emit(Event{Kind: EventStatus, RunID: runID, Stage: st.String(), Message: msg, Language: lang.String()})
}

// say updates the message without changing stage, unless the run has
// already moved past st.
func (o *Orchestrator) say(runID string, st Stage, p phrase) {
	lang := o.language()
	msg := p.in(lang)
	changed := false
	o.status.Update(func(s *Status) error {
		if s.RunID != runID || s.Stage != st.String() {
			return nil
		}
		s.Message = msg
		s.UpdatedAt = o.now()
		changed = true
		return nil
	})
	if changed {
		o.emit(Event{Kind: EventStatus, RunID: runID, Stage: st.String(), Message: msg, Language: lang.String()})
	}
}

func (o *Orchestrator) notice(runID string, code errors.Code, p phrase) {
	lang := o.language()
	ev := Event{Kind: EventNotice, RunID: runID, Message: p.in(lang), Language: lang.String()}
	if code != errors.Unknown {
		ev.Code = code.String()
	}
	o.emit(ev)
}

func (o *Orchestrator) setRecording(on bool) {
	o.status.Update(func(s *Status) error {
		s.Recording = on
		return nil
	})
}

func (o *Orchestrator) language() language.Language {
	return o.cfg.Session.Store().Language()
}
