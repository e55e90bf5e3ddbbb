package generation

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"anagami/internal/config"
)

var (
	errInvalidJSON  = errors.New("model did not return valid JSON output")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	smartQuotes     = strings.NewReplacer("“", `"`, "”", `"`, "„", `"`, "‘", "'", "’", "'")
)

// ParseStructured reads one value per label from a JSON object in raw. Missing
// keys become empty strings; non-string values are kept as their JSON text.
func ParseStructured(raw string, labels []config.Label) (map[string]string, error) {
	doc, err := repairJSON(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(labels))
	for _, l := range labels {
		v := gjson.Get(doc, gjson.Escape(l.JSONKey()))
		if !v.Exists() && l.JSONKey() != l.Key {
			v = gjson.Get(doc, gjson.Escape(l.Key))
		}
		switch {
		case !v.Exists(), v.Type == gjson.Null:
			out[l.Key] = ""
		case v.Type == gjson.String:
			out[l.Key] = strings.TrimSpace(v.String())
		default:
			out[l.Key] = strings.TrimSpace(v.Raw)
		}
	}
	return out, nil
}

// repairJSON returns raw when it is a JSON object, otherwise attempts to
// recover one from the largest {...} span. Typographic quotes are only
// rewritten when the span fails to parse without that step, so quotes inside
// string values survive.
func repairJSON(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if isObject(trimmed) {
		return trimmed, nil
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return "", errInvalidJSON
	}
	candidate := trailingCommaRe.ReplaceAllString(trimmed[start:end+1], "$1")
	if isObject(candidate) {
		return candidate, nil
	}
	candidate = trailingCommaRe.ReplaceAllString(smartQuotes.Replace(trimmed[start:end+1]), "$1")
	if !isObject(candidate) {
		return "", errInvalidJSON
	}
	return candidate, nil
}

func isObject(s string) bool {
	var m map[string]any
	return json.Unmarshal([]byte(s), &m) == nil
}

var labelPrefix = strings.NewReplacer("**", "", "__", "", "#", "")

// ParseLabeled scans text line by line. A line of the form "<label>: rest"
// starts the label; other lines extend the current one. Every label is present
// in the result.
func ParseLabeled(text string, labels []config.Label) map[string]string {
	buffers := make(map[string]*strings.Builder, len(labels))
	lookup := map[string]string{}
	for _, l := range labels {
		buffers[l.Key] = &strings.Builder{}
		lookup[strings.ToLower(l.Key)] = l.Key
		for _, title := range l.Title {
			lookup[strings.ToLower(title)] = l.Key
		}
	}
	current := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if key, rest, ok := matchLabel(line, lookup); ok {
			current = key
			if rest != "" {
				appendLine(buffers[current], rest)
			}
			continue
		}
		if current != "" {
			appendLine(buffers[current], line)
		}
	}
	out := make(map[string]string, len(labels))
	for _, l := range labels {
		out[l.Key] = strings.TrimSpace(buffers[l.Key].String())
	}
	return out
}

func matchLabel(line string, lookup map[string]string) (string, string, bool) {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimLeft(trimmed, "-*• ")
	idx := strings.Index(trimmed, ":")
	if idx <= 0 {
		return "", "", false
	}
	name := strings.TrimSpace(labelPrefix.Replace(trimmed[:idx]))
	key, ok := lookup[strings.ToLower(name)]
	if !ok {
		return "", "", false
	}
	rest := strings.TrimSpace(strings.TrimLeft(trimmed[idx+1:], "*_ "))
	return key, rest, true
}

func appendLine(b *strings.Builder, line string) {
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(line)
}
