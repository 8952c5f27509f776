package archive

import (
	"testing"
	"time"

	"github.com/GriffinCanCode/voicetask/internal/capture"
)

func TestObjectKey(t *testing.T) {
	at := time.Date(2025, 3, 14, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600))
	tests := []struct {
		payload capture.Payload
		want    string
	}{
		{capture.Payload{MimeType: "audio/webm;codecs=opus"}, "recordings/2025/03/15/run-1.webm"},
		{capture.Payload{MimeType: "audio/wav"}, "recordings/2025/03/15/run-1.wav"},
		{capture.Payload{MimeType: "audio/mp4"}, "recordings/2025/03/15/run-1.m4a"},
	}
	for _, tt := range tests {
		if got := ObjectKey(at, "run-1", tt.payload.FileName()); got != tt.want {
			t.Errorf("ObjectKey(%s) = %q, want %q", tt.payload.MimeType, got, tt.want)
		}
	}
}

func TestContentType(t *testing.T) {
	if got := contentType(""); got != "application/octet-stream" {
		t.Errorf("contentType(\"\") = %q", got)
	}
	if got := contentType("audio/ogg;codecs=opus"); got != "audio/ogg;codecs=opus" {
		t.Errorf("contentType = %q", got)
	}
}
