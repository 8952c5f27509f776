// Package inference is the client for the hosted speech and chat models.
// Each service has its own circuit breaker; calls are never retried.
package inference

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/GriffinCanCode/voicetask/internal/errors"
	"github.com/GriffinCanCode/voicetask/internal/resilience"
	"github.com/GriffinCanCode/voicetask/internal/trace"
)

// Config configures the remote endpoint and breakers.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Breaker    resilience.Config
	// Logger receives breaker state changes. Nil uses slog.Default().
	Logger *slog.Logger
}

// Client wraps the speech and chat services
type Client struct {
	baseURL    string
	httpClient *http.Client
	Speech     *resilience.Breaker
	Chat       *resilience.Breaker
}

// New creates a client. A nil HTTPClient uses a tracing client.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = trace.NewClient()
	}
	br := cfg.Breaker
	if br.Trips == nil {
		br.Trips = errors.IsRemoteFault
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		Speech:     resilience.New("speech", br).WithHook(logTransitions(log, "speech")),
		Chat:       resilience.New("chat", br).WithHook(logTransitions(log, "chat")),
	}
}

func logTransitions(log *slog.Logger, name string) func(from, to resilience.State) {
	return func(from, to resilience.State) {
		if to == resilience.Open {
			log.Warn("circuit breaker opened", "breaker", name, "from", from.String())
			return
		}
		log.Info("circuit breaker "+to.String(), "breaker", name, "from", from.String())
	}
}

// OpenAI returns an API client authenticated with credential. The credential
// is supplied per call because the user may log in and out between runs.
func (c *Client) OpenAI(credential string) *openai.Client {
	cfg := openai.DefaultConfig(credential)
	if c.baseURL != "" {
		cfg.BaseURL = strings.TrimRight(c.baseURL, "/")
	}
	cfg.HTTPClient = c.httpClient
	return openai.NewClientWithConfig(cfg)
}

// Guard runs fn behind b. An open breaker fails fast with Unavailable.
func Guard[T any](b *resilience.Breaker, fn func() (T, error)) (T, error) {
	v, err := resilience.ExecuteWithResult(b, fn)
	if stderrors.Is(err, resilience.ErrOpen) {
		return v, errors.Wrapf(err, errors.Unavailable, "%s service temporarily unavailable", b.Name())
	}
	return v, err
}

// RemoteError classifies a failed API call as code, keeping the HTTP status
// and the most specific message the service returned.
func RemoteError(ctx context.Context, code errors.Code, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), errors.Cancelled, "request cancelled")
	}

	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return errors.Remote(code, apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if stderrors.As(err, &reqErr) {
		msg := strings.TrimSpace(string(reqErr.Body))
		if msg == "" {
			msg = http.StatusText(reqErr.HTTPStatusCode)
		}
		return errors.Remote(code, reqErr.HTTPStatusCode, msg, err)
	}

	return errors.Remote(code, 0, err.Error(), err)
}
