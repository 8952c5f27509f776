// Package transcribe turns a finished recording into text.
package transcribe

import (
	"bytes"
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/GriffinCanCode/voicetask/internal/capture"
	"github.com/GriffinCanCode/voicetask/internal/errors"
	"github.com/GriffinCanCode/voicetask/internal/inference"
	"github.com/GriffinCanCode/voicetask/internal/trace"
)

// DefaultPrompt hints that the speech is task-oriented without pinning a language.
const DefaultPrompt = "This recording may contain tasks, to-do items, and reminders in various languages."

// Client transcribes audio with a hosted speech model.
type Client struct {
	api    *inference.Client
	model  string
	prompt string
}

// New creates a transcription client. Empty model and prompt use the defaults.
func New(api *inference.Client, model, prompt string) *Client {
	if model == "" {
		model = openai.Whisper1
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Client{api: api, model: model, prompt: prompt}
}

// Transcribe uploads p once and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, p capture.Payload, credential string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "transcribe")
	span.SetAttr("bytes", len(p.Data))
	span.SetAttr("mime", p.MimeType)

	text, err := inference.Guard(c.api.Speech, func() (string, error) {
		resp, err := c.api.OpenAI(credential).CreateTranscription(ctx, openai.AudioRequest{
			Model:    c.model,
			FilePath: p.FileName(),
			Reader:   bytes.NewReader(p.Data),
			Prompt:   c.prompt,
		})
		if err != nil {
			return "", inference.RemoteError(ctx, errors.TranscriptionFailed, err)
		}
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return "", errors.New(errors.EmptyTranscript, "no speech recognized")
		}
		return text, nil
	})
	span.SetAttr("chars", len(text))
	span.Finish(ctx, err)
	return text, err
}
