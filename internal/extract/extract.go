// Package extract turns a transcript into structured task records using a
// hosted chat model.
package extract

import (
	"context"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/GriffinCanCode/voicetask/internal/errors"
	"github.com/GriffinCanCode/voicetask/internal/inference"
	"github.com/GriffinCanCode/voicetask/internal/tasks"
	"github.com/GriffinCanCode/voicetask/internal/trace"
)

const (
	DefaultModel       = openai.GPT4o
	DefaultTemperature = 0.3
)

// Client extracts tasks from transcripts.
type Client struct {
	api         *inference.Client
	model       string
	temperature float32
	now         func() time.Time
}

// New creates an extraction client. An empty model uses DefaultModel and a
// negative temperature uses DefaultTemperature.
func New(api *inference.Client, model string, temperature float64) *Client {
	if model == "" {
		model = DefaultModel
	}
	if temperature < 0 {
		temperature = DefaultTemperature
	}
	t := float32(temperature)
	if t == 0 {
		// go-openai omits a zero temperature from the request, which leaves
		// the service default in effect.
		t = math.SmallestNonzeroFloat32
	}
	return &Client{api: api, model: model, temperature: t, now: time.Now}
}

// WithClock overrides the clock used for the date in the instructions.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// Extract sends transcript once and parses the reply into records. Records
// are not yet stamped; the store does that on append.
func (c *Client) Extract(ctx context.Context, transcript, credential string) ([]tasks.Record, error) {
	ctx, span := trace.StartSpan(ctx, "extract")
	span.SetAttr("chars", len(transcript))

	content, err := inference.Guard(c.api.Chat, func() (string, error) {
		resp, err := c.api.OpenAI(credential).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(c.now())},
				{Role: openai.ChatMessageRoleUser, Content: transcript},
			},
			Temperature: c.temperature,
		})
		if err != nil {
			return "", inference.RemoteError(ctx, errors.ExtractionFailed, err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New(errors.MalformedExtraction, "reply has no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		span.Finish(ctx, err)
		return nil, err
	}

	records, err := ParseReply(content)
	span.SetAttr("tasks", len(records))
	span.Finish(ctx, err)
	return records, err
}
