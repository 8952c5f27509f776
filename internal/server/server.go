package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/GriffinCanCode/voicetask/internal/errors"
	"github.com/GriffinCanCode/voicetask/internal/language"
	"github.com/GriffinCanCode/voicetask/internal/orchestrator"
	"github.com/GriffinCanCode/voicetask/internal/render"
	"github.com/GriffinCanCode/voicetask/internal/session"
	"github.com/GriffinCanCode/voicetask/internal/tasks"
	"github.com/GriffinCanCode/voicetask/internal/trace"
)

// Pipeline is the part of the orchestrator the server drives.
type Pipeline interface {
	Status() orchestrator.Status
	Start(ctx context.Context) (string, error)
	StopRecording() error
	Events() <-chan orchestrator.Event
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Credential string `json:"credential"`
}

// TasksResponse is the body of GET /api/tasks.
type TasksResponse struct {
	Language string            `json:"language"`
	Tasks    []render.TaskView `json:"tasks"`
	Empty    string            `json:"empty_message,omitempty"`
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	pipe    Pipeline
	session *session.Session

	mu    sync.RWMutex
	conns map[*websocket.Conn]chan orchestrator.Event
}

// New creates a server and starts forwarding pipeline events to WebSocket
// clients. The forwarder stops when ctx is done or the event channel closes.
func New(ctx context.Context, pipe Pipeline, sess *session.Session) *Server {
	s := &Server{
		pipe:    pipe,
		session: sess,
		conns:   make(map[*websocket.Conn]chan orchestrator.Event),
	}
	go s.broadcast(ctx)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("GET /api/tasks/export", s.handleExport)
	mux.HandleFunc("DELETE /api/tasks/{index}", s.handleDelete)
	mux.HandleFunc("DELETE /api/tasks", s.handleClear)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, errors.Wrap(err, errors.InvalidArgument, "invalid login body"))
		return
	}
	if err := s.session.Login(r.Context(), req.Credential); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.Status())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.Status())
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	runID, err := s.pipe.Start(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	trace.Logger(r.Context()).Info("recording started", "run_id", runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recording_started", "run_id": runID})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if err := s.pipe.StopRecording(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recording_stopped"})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	records, err := s.session.Tasks()
	if err != nil {
		writeError(w, r, err)
		return
	}
	lang := language.MajorityLanguage(records)
	resp := TasksResponse{Language: lang.String(), Tasks: render.View(records)}
	if len(records) == 0 {
		resp.Empty = render.Empty(lang)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	records, err := s.session.Tasks()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(render.Clipboard(records)))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, r, errors.Newf(errors.InvalidArgument, "invalid task index %q", r.PathValue("index")))
		return
	}
	removed, err := s.session.DeleteTask(r.Context(), i)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, render.View([]tasks.Record{removed})[0])
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	records, err := s.session.Tasks()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("confirm") != "true" {
		lang := language.MajorityLanguage(records)
		writeError(w, r, errors.New(errors.InvalidArgument, render.ConfirmClear(lang)).
			WithMetadata("confirm", "required"))
		return
	}
	if err := s.session.ClearTasks(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context())
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	send := make(chan orchestrator.Event, wsSendBuffer)
	s.mu.Lock()
	s.conns[conn] = send
	s.mu.Unlock()
	defer s.drop(conn)

	log.Info("websocket connected", "remote", r.RemoteAddr)

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	if err := write(ctx, conn, statusEvent(s.pipe.Status())); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug("websocket closed", "remote", r.RemoteAddr)
			return
		case ev, ok := <-send:
			if !ok {
				log.Warn("websocket client too slow, disconnecting", "remote", r.RemoteAddr)
				_ = conn.Close(websocket.StatusPolicyViolation, "too slow")
				return
			}
			if err := write(ctx, conn, ev); err != nil {
				log.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, ev orchestrator.Event) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

func statusEvent(st orchestrator.Status) orchestrator.Event {
	return orchestrator.Event{
		Kind:     orchestrator.EventStatus,
		RunID:    st.RunID,
		Stage:    st.Stage,
		Message:  st.Message,
		Language: st.Language,
		At:       st.UpdatedAt,
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		close(ch)
	}
}

func (s *Server) broadcast(ctx context.Context) {
	events := s.pipe.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.fanOut(ev)
		}
	}
}

func (s *Server) fanOut(ev orchestrator.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.conns {
		select {
		case ch <- ev:
		default:
			delete(s.conns, conn)
			close(ch)
		}
	}
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the error's HTTP status and its gRPC status proto
// as JSON, so clients see the pipeline code and metadata.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Wrap(err, errors.Internal, "internal error")
	}
	code := appErr.HTTPStatus()
	log := trace.Logger(r.Context()).With("code", appErr.Code.String(), "status", code)
	if code >= http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	} else {
		log.Debug("request rejected", "error", err)
	}

	body, mErr := protojson.Marshal(appErr.GRPCStatus().Proto())
	if mErr != nil {
		body = []byte(`{"message":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
