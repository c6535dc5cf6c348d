package gateway

import (
	"strings"

	"github.com/memorialsite/agentgw/internal/session"
)

const historyHeader = "Previous conversation:\n"

// ComposePrompt serializes the transcript and the new message into one
// prompt. System turns are skipped. The oldest turns are dropped until the
// prompt fits in limit bytes; the new message is always kept.
func ComposePrompt(turns []session.Turn, message string, limit int) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case session.RoleUser:
			lines = append(lines, "User: "+t.Content)
		case session.RoleAssistant:
			lines = append(lines, "Assistant: "+t.Content)
		}
	}
	tail := "User: " + message

	size := len(historyHeader) + 1 + len(tail)
	for _, l := range lines {
		size += len(l) + 1
	}
	for len(lines) > 0 && limit > 0 && size > limit {
		size -= len(lines[0]) + 1
		lines = lines[1:]
	}
	if len(lines) == 0 {
		return message
	}

	var sb strings.Builder
	sb.Grow(size)
	sb.WriteString(historyHeader)
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	sb.WriteString(tail)
	return sb.String()
}
