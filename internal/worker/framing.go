package worker

import (
	"bufio"
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// legacyMessage matches a "message" field anywhere in a line. Only used in
// lenient mode for workers that do not frame their output.
var legacyMessage = regexp.MustCompile(`"message"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// ParseOutput folds framed stdout into the final reply.
//
// The last result event wins. When no result carries a message, assistant
// texts are joined. An error event fails the run unless a later result
// succeeded.
func ParseOutput(stdout []byte, lenient bool) (string, error) {
	var (
		result    string
		hasResult bool
		partials  []string
		lastErr   string
	)
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), len(stdout)+1)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil || ev.Type == "" {
			if lenient {
				continue
			}
			return "", &ParseError{Line: lineNo, Reason: "not a framed event"}
		}
		switch ev.Type {
		case EventAssistant:
			if ev.Text != "" {
				partials = append(partials, ev.Text)
			}
		case EventResult:
			if !ev.Success {
				lastErr = firstNonEmpty(ev.Message, "worker reported failure")
				hasResult = false
				continue
			}
			result = ev.Message
			hasResult = true
			lastErr = ""
		case EventError:
			lastErr = firstNonEmpty(ev.Message, "worker reported an error")
			hasResult = false
		default:
			if !lenient {
				return "", &ParseError{Line: lineNo, Reason: "unknown event type " + ev.Type}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return "", &ParseError{Reason: err.Error()}
	}

	if lastErr != "" {
		return "", &ParseError{Reason: "worker error: " + lastErr}
	}
	if hasResult && result != "" {
		return result, nil
	}
	if len(partials) > 0 {
		return strings.Join(partials, "\n"), nil
	}
	if hasResult {
		return "", nil
	}
	if lenient {
		if msg, ok := extractLegacyMessage(stdout); ok {
			return msg, nil
		}
	}
	return "", &ParseError{Reason: "no result event"}
}

// extractLegacyMessage returns the last "message" string found in raw output.
func extractLegacyMessage(stdout []byte) (string, bool) {
	matches := legacyMessage.FindAllSubmatch(stdout, -1)
	if len(matches) == 0 {
		return "", false
	}
	raw := matches[len(matches)-1][1]
	var s string
	if err := json.Unmarshal(append(append([]byte{'"'}, raw...), '"'), &s); err != nil {
		return string(raw), true
	}
	return s, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
