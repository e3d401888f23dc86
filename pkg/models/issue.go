package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

type Category string

const (
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
	CategoryQuality     Category = "quality"
)

// ParseSeverity normalizes a loosely formatted severity. Unknown values are returned
// upper-cased so they still sort deterministically.
func ParseSeverity(s string) Severity {
	return Severity(strings.ToUpper(strings.TrimSpace(s)))
}

// ParseCategory normalizes a loosely formatted category.
func ParseCategory(s string) Category {
	return Category(strings.ToLower(strings.TrimSpace(s)))
}

// RawIssue is an issue as emitted by the detection stage. The well-known fields are
// decoded leniently; Fields keeps the complete original object so alternate field
// names and nested metadata stay addressable during reconciliation.
type RawIssue struct {
	ID          string
	Type        string
	Severity    Severity
	Category    Category
	File        string
	Line        int
	Code        string
	Description string
	Title       string
	CVEScore    *float64
	// Model is the routing assignment attached before the suggestion stage.
	Model  string
	Fields map[string]any
}

func (r *RawIssue) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode issue: %w", err)
	}
	*r = RawIssueFromMap(fields)
	return nil
}

func (r RawIssue) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+10)
	for k, v := range r.Fields {
		out[k] = v
	}
	setString := func(key, val string) {
		if val != "" {
			out[key] = val
		}
	}
	setString("id", r.ID)
	setString("type", r.Type)
	setString("severity", string(r.Severity))
	setString("category", string(r.Category))
	setString("file", r.File)
	setString("code", r.Code)
	setString("description", r.Description)
	setString("title", r.Title)
	setString("model", r.Model)
	if r.Line > 0 {
		out["line"] = r.Line
	}
	if r.CVEScore != nil {
		out["cveScore"] = *r.CVEScore
	}
	return json.Marshal(out)
}

// RawIssueFromMap builds a RawIssue from a decoded JSON object.
func RawIssueFromMap(fields map[string]any) RawIssue {
	if fields == nil {
		fields = map[string]any{}
	}
	r := RawIssue{Fields: fields}
	r.ID, _ = r.StringField("id", "issueId")
	r.Type, _ = r.StringField("type", "issueType")
	sev, _ := r.StringField("severity")
	r.Severity = ParseSeverity(sev)
	cat, _ := r.StringField("category")
	r.Category = ParseCategory(cat)
	r.File, _ = r.StringField("file")
	if v, ok := fields["line"]; ok {
		if n, ok := AsInt(v); ok {
			r.Line = n
		}
	}
	r.Code, _ = r.StringField("code", "codeSnippet")
	r.Description, _ = r.StringField("description")
	r.Title, _ = r.StringField("title")
	r.Model, _ = r.StringField("model")
	for _, key := range []string{"cveScore", "cvssScore"} {
		if v, ok := fields[key]; ok {
			if f, ok := AsFloat(v); ok {
				r.CVEScore = &f
				break
			}
		}
	}
	return r
}

// StringField returns the first non-empty string value among keys.
func (r RawIssue) StringField(keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := AsString(r.Fields[k]); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// Object returns the nested JSON object stored under key.
func (r RawIssue) Object(key string) (map[string]any, bool) {
	m, ok := r.Fields[key].(map[string]any)
	return m, ok
}

// AsString converts scalar JSON values to a trimmed string.
func AsString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// AsInt converts a JSON number or numeric string to an int. Strings shaped like a
// range ("10-20") yield their first number.
func AsInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), true
		}
		if f, err := t.Float64(); err == nil {
			return int(f), true
		}
		return 0, false
	case string:
		s := strings.TrimSpace(t)
		if i := strings.IndexAny(s, "-–"); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// AsFloat converts a JSON number or numeric string to a float64.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Issue is the reconciled, persisted form of an issue.
type Issue struct {
	AnalysisID    string      `db:"analysis_id"    json:"analysis_id"`
	IssueID       string      `db:"issue_id"       json:"issue_id"`
	Type          string      `db:"type"           json:"type"`
	Title         string      `db:"title"          json:"title"`
	Description   string      `db:"description"    json:"description"`
	Severity      Severity    `db:"severity"       json:"severity"`
	Category      Category    `db:"category"       json:"category"`
	File          string      `db:"file"           json:"file"`
	Line          int         `db:"line"           json:"line"`
	Column        *int        `db:"col"            json:"column,omitempty"`
	Code          string      `db:"code"           json:"code,omitempty"`
	Language      string      `db:"language"       json:"language,omitempty"`
	CWE           string      `db:"cwe"            json:"cwe,omitempty"`
	CVSSScore     *float64    `db:"cvss_score"     json:"cvss_score,omitempty"`
	CVEID         string      `db:"cve_id"         json:"cve_id,omitempty"`
	CVEScore      *float64    `db:"cve_score"      json:"cve_score,omitempty"`
	LineDefaulted bool        `db:"line_defaulted" json:"line_defaulted"`
	Suggestion    *Suggestion `db:"suggestion"     json:"suggestion,omitempty"`
}
