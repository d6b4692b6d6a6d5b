package http

import (
	"fmt"
	"regexp"
	"strings"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxSessionIDLength = 128

// isValidOptionalSessionID validates a caller-supplied session ID. An empty
// value is valid and means "start a new session".
func isValidOptionalSessionID(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", nil
	}
	if len(sessionID) > maxSessionIDLength {
		return "", fmt.Errorf("session ID exceeds %d characters", maxSessionIDLength)
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return "", fmt.Errorf("session ID may only contain letters, digits, '-' and '_'")
	}
	return sessionID, nil
}
