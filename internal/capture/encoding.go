package capture

import (
	"strings"
	"time"
)

// Encoding is a container/codec pair.
type Encoding struct {
	Container string
	Codec     string
}

// MimeType renders e as a media type, e.g. audio/webm;codecs=opus.
func (e Encoding) MimeType() string {
	if e.Codec == "" {
		return "audio/" + e.Container
	}
	return "audio/" + e.Container + ";codecs=" + e.Codec
}

// DefaultEncodings is the negotiation priority order.
var DefaultEncodings = []Encoding{
	{Container: "webm", Codec: "opus"},
	{Container: "webm"},
	{Container: "ogg", Codec: "opus"},
	{Container: "mp4"},
	{Container: "wav"},
}

// Payload is a finished recording: fragments concatenated in arrival order.
type Payload struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

var extensions = []struct{ prefix, ext string }{
	{"audio/webm", "webm"},
	{"audio/ogg", "ogg"},
	{"audio/mp4", "m4a"},
	{"audio/x-m4a", "m4a"},
	{"audio/wav", "wav"},
	{"audio/x-wav", "wav"},
	{"audio/mpeg", "mp3"},
}

// FileName is the upload name; the speech service infers the format from
// its extension. Unknown types fall back to webm.
func (p Payload) FileName() string {
	mt := strings.ToLower(strings.TrimSpace(p.MimeType))
	for _, e := range extensions {
		if strings.HasPrefix(mt, e.prefix) {
			return "recording." + e.ext
		}
	}
	return "recording.webm"
}
