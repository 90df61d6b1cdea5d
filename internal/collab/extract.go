package collab

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	fencePattern    = regexp.MustCompile("(?s)```[A-Za-z0-9_+.-]*[ \\t]*\\r?\\n(.*?)```")
	contractPattern = regexp.MustCompile(`(?m)^\s*(?:abstract\s+)?contract\s+[A-Za-z_]`)
	edgeLinePattern = regexp.MustCompile(`(?im)^\s*"?edge"?\s*[:=]\s*(-?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)\s*,?\s*$`)
)

// ExtractSource pulls the candidate program out of a generator response:
// the last fenced code block, or the whole response when it is a bare
// program with a contract declaration.
func ExtractSource(response string) (string, error) {
	if strings.TrimSpace(response) == "" {
		return "", newError("generate", CodeEmpty, "empty response", nil)
	}
	blocks := fencePattern.FindAllStringSubmatch(response, -1)
	for i := len(blocks) - 1; i >= 0; i-- {
		if body := strings.TrimSpace(blocks[i][1]); body != "" {
			return body + "\n", nil
		}
	}
	if contractPattern.MatchString(response) {
		return strings.TrimSpace(response) + "\n", nil
	}
	return "", newError("generate", CodeUnparseable, "no code block or contract in response", nil)
}

// ExtractJSON pulls a JSON object out of a generator response: the last
// fenced block that is a valid object, otherwise the outermost {...} span.
func ExtractJSON(response string) ([]byte, error) {
	if strings.TrimSpace(response) == "" {
		return nil, newError("generate", CodeEmpty, "empty response", nil)
	}
	blocks := fencePattern.FindAllStringSubmatch(response, -1)
	for i := len(blocks) - 1; i >= 0; i-- {
		body := strings.TrimSpace(blocks[i][1])
		if isObject(body) {
			return []byte(body), nil
		}
	}
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		if body := response[start : end+1]; isObject(body) {
			return []byte(body), nil
		}
	}
	return nil, newError("generate", CodeUnparseable, "no JSON object in response", nil)
}

func isObject(s string) bool {
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}

// ParseEdge reads the evaluator's score: a JSON object with an "edge"
// number (the last such line wins), or a line "edge: <float>".
func ParseEdge(output string) (float64, error) {
	if strings.TrimSpace(output) == "" {
		return 0, newError("evaluate", CodeEmpty, "no output", nil)
	}

	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var obj struct {
			Edge *float64 `json:"edge"`
		}
		if err := json.Unmarshal([]byte(line), &obj); err == nil && obj.Edge != nil {
			return *obj.Edge, nil
		}
	}

	var obj struct {
		Edge *float64 `json:"edge"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &obj); err == nil && obj.Edge != nil {
		return *obj.Edge, nil
	}

	matches := edgeLinePattern.FindAllStringSubmatch(output, -1)
	if len(matches) > 0 {
		v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
		if err == nil {
			return v, nil
		}
	}
	return 0, newError("evaluate", CodeUnparseable, "no edge in evaluator output", nil)
}
