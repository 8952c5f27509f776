package extract

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/GriffinCanCode/voicetask/internal/errors"
	"github.com/GriffinCanCode/voicetask/internal/tasks"
)

// replySchema accepts an array of objects with a non-blank task. Other
// fields are coerced after decoding rather than rejected.
const replySchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["task"],
    "properties": {
      "task": {"type": "string", "pattern": "\\S"}
    }
  }
}`

var (
	schema  = mustSchema(replySchema)
	fenceRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
)

func mustSchema(s string) *gojsonschema.Schema {
	sch, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return sch
}

// ParseReply recovers task records from a chat reply. Candidates are tried in
// order: a fenced code block, the outermost [...] span, then the raw reply
// (wrapped in brackets when it does not start with one). The first candidate
// that decodes as JSON is validated; a bare object counts as a single task.
// An empty array is a valid answer with no tasks.
func ParseReply(content string) ([]tasks.Record, error) {
	content = strings.TrimSpace(content)

	var doc []byte
	for _, c := range candidates(content) {
		if raw, ok := decode(c); ok {
			doc = raw
			break
		}
	}
	if doc == nil {
		return nil, errors.New(errors.MalformedExtraction, "reply is not JSON").
			WithMetadata("reply", truncate(content, 200))
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, errors.Wrap(err, errors.MalformedExtraction, "validate reply")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, errors.Newf(errors.MalformedExtraction, "reply does not match task schema: %s", strings.Join(msgs, "; "))
	}

	var records []tasks.Record
	if err := json.Unmarshal(doc, &records); err != nil {
		return nil, errors.Wrap(err, errors.MalformedExtraction, "decode tasks")
	}
	return records, nil
}

func candidates(content string) []string {
	var out []string
	if m := fenceRe.FindStringSubmatch(content); m != nil {
		out = append(out, m[1])
	}
	if i, j := strings.IndexByte(content, '['), strings.LastIndexByte(content, ']'); i >= 0 && j > i {
		out = append(out, content[i:j+1])
	}
	if strings.HasPrefix(content, "[") {
		out = append(out, content)
	} else {
		out = append(out, "["+content+"]")
	}
	return out
}

// decode reports whether c is JSON, wrapping a bare object into an array.
func decode(c string) ([]byte, bool) {
	raw := bytes.TrimSpace([]byte(c))
	if !json.Valid(raw) {
		return nil, false
	}
	if len(raw) > 0 && raw[0] == '{' {
		raw = append(append([]byte{'['}, raw...), ']')
	}
	return raw, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
