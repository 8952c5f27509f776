package trace

import (
	"net/http"
	"time"
)

// Middleware extracts or creates trace context for incoming API requests.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := fromHeaders(r.Header)
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

func fromHeaders(h http.Header) Context {
	tc := Context{
		TraceID:      h.Get(TraceIDKey),
		ParentSpanID: h.Get(SpanIDKey),
		SpanID:       newSpanID(),
	}
	if tc.TraceID == "" {
		tc.TraceID = newTraceID()
	}
	return tc
}

// Transport propagates the request context's trace ids on outgoing calls
// and logs each round trip.
type Transport struct {
	Base http.RoundTripper
}

// NewClient returns an http.Client using Transport over the default transport.
func NewClient() *http.Client {
	return &http.Client{Transport: &Transport{}}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	ctx := req.Context()
	if tc, ok := FromContext(ctx); ok {
		req = req.Clone(ctx)
		req.Header.Set(TraceIDKey, tc.TraceID)
		req.Header.Set(SpanIDKey, tc.SpanID)
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	log := Logger(ctx).With("method", req.Method, "path", req.URL.Path, "duration", time.Since(start))
	if err != nil {
		log.Debug("outgoing request failed", "error", err)
		return nil, err
	}
	log.Debug("outgoing request", "status", resp.StatusCode)
	return resp, nil
}
