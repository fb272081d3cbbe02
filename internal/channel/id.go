package channel

import (
	"fmt"
	"strings"

	"github.com/andy6609/textserver/internal/app"
	"github.com/andy6609/textserver/internal/session"
)

// ParseID splits a channel id of the form app/qualifier.
func ParseID(id string) (string, string, error) {
	appID, qual, ok := strings.Cut(id, "/")
	if !ok || !app.ValidID(appID) || !session.ValidName(qual) {
		return "", "", fmt.Errorf("invalid channel id %q", id)
	}
	return appID, qual, nil
}

// JoinID builds a channel id.
func JoinID(appID, qual string) string {
	return appID + "/" + qual
}

// SplitPrefix extracts a leading [app/qualifier] channel address from an
// input line. Brackets without a slash are ordinary payload.
func SplitPrefix(line string) (string, string, bool) {
	if !strings.HasPrefix(line, "[") {
		return "", line, false
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return "", line, false
	}
	id := line[1:end]
	if !strings.Contains(id, "/") {
		return "", line, false
	}
	return id, line[end+1:], true
}

// Tag prefixes line with the channel address of id.
func Tag(id, line string) string {
	return "[" + id + "]" + line
}

// escape doubles a leading sentinel so that channel text cannot pass for a
// server reply.
func escape(line string) string {
	if line != "" && line[0] == session.Sentinel {
		return string(session.Sentinel) + line
	}
	return line
}
