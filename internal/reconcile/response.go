package reconcile

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

// Kind classifies a raw stage response.
type Kind int

const (
	// KindAbsent is an empty response.
	KindAbsent Kind = iota
	// KindStructured is a JSON object.
	KindStructured
	// KindError is a JSON object whose status reports a failure.
	KindError
	// KindSentinel is a bare status token such as SUCCESS, turned into an envelope.
	KindSentinel
	// KindUnrecognized is anything else; the text is kept verbatim.
	KindUnrecognized
)

func (k Kind) String() string {
	switch k {
	case KindStructured:
		return "structured"
	case KindError:
		return "error"
	case KindSentinel:
		return "sentinel"
	case KindUnrecognized:
		return "unrecognized"
	default:
		return "absent"
	}
}

var sentinels = map[string]string{
	"SUCCESS":   "success",
	"COMPLETED": "completed",
	"FAILURE":   "failure",
	"ERROR":     "error",
}

var failedStatuses = map[string]bool{
	"error":   true,
	"failed":  true,
	"failure": true,
}

// Response is a parsed stage response.
type Response struct {
	Kind   Kind
	Status string
	Body   map[string]any
	Raw    string
}

// ParseResponse classifies raw. It never fails: text that is not a JSON object
// comes back as KindSentinel or KindUnrecognized.
func ParseResponse(raw []byte) Response {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Response{Kind: KindAbsent}
	}

	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&body); err == nil && body != nil && !dec.More() {
		// Function URLs and API gateways wrap the real response in a string body.
		if inner, ok := body["body"].(string); ok {
			if r := ParseResponse([]byte(inner)); r.Kind == KindStructured || r.Kind == KindError {
				return r
			}
		}
		status, _ := models.AsString(body["status"])
		status = strings.ToLower(status)
		kind := KindStructured
		if failedStatuses[status] {
			kind = KindError
		}
		return Response{Kind: kind, Status: status, Body: body, Raw: string(trimmed)}
	}

	token := strings.ToUpper(strings.Trim(string(trimmed), `"' `))
	if status, ok := sentinels[token]; ok {
		return Response{
			Kind:   KindSentinel,
			Status: status,
			Body:   map[string]any{"status": status},
			Raw:    string(trimmed),
		}
	}
	return Response{Kind: KindUnrecognized, Raw: string(trimmed)}
}

// Succeeded reports whether the response carries usable, non-failed content.
func (r Response) Succeeded() bool {
	switch r.Kind {
	case KindStructured:
		return true
	case KindSentinel:
		return !failedStatuses[r.Status]
	default:
		return false
	}
}

// Terminal reports whether the response settles an async request, either way.
func (r Response) Terminal() bool {
	switch r.Kind {
	case KindStructured, KindError, KindSentinel:
		return r.Status != "" && r.Status != "pending" && r.Status != "processing" && r.Status != "running"
	default:
		return false
	}
}

func (r Response) array(key string) ([]any, bool) {
	if r.Body == nil {
		return nil, false
	}
	arr, ok := r.Body[key].([]any)
	return arr, ok
}

func (r Response) object(key string) (map[string]any, bool) {
	if r.Body == nil {
		return nil, false
	}
	obj, ok := r.Body[key].(map[string]any)
	return obj, ok
}

// Files returns the screened files.
func (r Response) Files() ([]models.File, bool) {
	arr, ok := r.array("files")
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(arr)
	if err != nil {
		return nil, false
	}
	var files []models.File
	if err := json.Unmarshal(data, &files); err != nil {
		// Mixed arrays: keep what decodes.
		files = files[:0]
		for _, el := range arr {
			b, _ := json.Marshal(el)
			var f models.File
			if json.Unmarshal(b, &f) == nil && f.Path != "" {
				files = append(files, f)
			}
		}
	}
	return files, true
}

// SkipReasons returns the reasons screening gave for dropped files.
func (r Response) SkipReasons() (map[string]string, bool) {
	obj, ok := r.object("skipped")
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(obj))
	for path, v := range obj {
		reason, _ := models.AsString(v)
		out[path] = reason
	}
	return out, true
}

// Issues returns the detected issues. Elements that are not objects are skipped.
func (r Response) Issues() ([]models.RawIssue, bool) {
	arr, ok := r.array("issues")
	if !ok {
		return nil, false
	}
	out := make([]models.RawIssue, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			out = append(out, models.RawIssueFromMap(m))
		}
	}
	return out, true
}

// Suggestions returns suggestions from the first of suggestions,
// summary.suggestions and data.suggestions that is present.
func (r Response) Suggestions() ([]RawSuggestion, bool) {
	arr, ok := r.array("suggestions")
	if !ok {
		for _, parent := range []string{"summary", "data"} {
			if obj, found := r.object(parent); found {
				if a, isArr := obj["suggestions"].([]any); isArr {
					arr, ok = a, true
					break
				}
			}
		}
	}
	if !ok {
		return nil, false
	}
	out := make([]RawSuggestion, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			out = append(out, rawSuggestionFromMap(m))
		}
	}
	return out, true
}

func (r Response) summaryValue(key string) (any, bool) {
	obj, ok := r.object("summary")
	if !ok {
		return nil, false
	}
	v, ok := obj[key]
	return v, ok
}

// TokensUsed returns summary.tokensUsed when it is positive.
func (r Response) TokensUsed() (int, bool) {
	v, ok := r.summaryValue("tokensUsed")
	if !ok {
		return 0, false
	}
	n, ok := models.AsInt(v)
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}

// TotalCost returns summary.totalCost when it is positive.
func (r Response) TotalCost() (float64, bool) {
	v, ok := r.summaryValue("totalCost")
	if !ok {
		return 0, false
	}
	f, ok := models.AsFloat(v)
	if !ok || f <= 0 {
		return 0, false
	}
	return f, true
}

// RawSuggestion is a suggestion as returned by the suggestion stage, with the
// issue identity fields used for linking.
type RawSuggestion struct {
	models.Suggestion
	Type        string
	File        string
	Line        int
	Description string
}

func rawSuggestionFromMap(m map[string]any) RawSuggestion {
	var s RawSuggestion
	if b, err := json.Marshal(m); err == nil {
		_ = json.Unmarshal(b, &s.Suggestion)
	}
	fields := models.RawIssue{Fields: m}
	if s.IssueID == "" {
		s.IssueID, _ = fields.StringField("id", "issue_id")
	}
	s.Type, _ = fields.StringField("type", "issueType")
	s.File, _ = fields.StringField("file", "filePath", "file_path")
	for _, key := range []string{"line", "lineNumber"} {
		if n, ok := models.AsInt(m[key]); ok && n > 0 {
			s.Line = n
			break
		}
	}
	s.Description, _ = fields.StringField("description")
	if s.Source == "" {
		s.Source = models.SuggestionSourceAI
	}
	return s
}
