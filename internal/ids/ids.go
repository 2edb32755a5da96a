// Package ids generates and parses the identifiers used throughout granary:
// slug-suffixed IDs for initiatives and projects, counter-suffixed IDs for
// tasks/comments/artifacts nested under them, date-plus-suffix IDs for
// sessions, and suffix-only IDs for checkpoints, workers, and runs.
package ids

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// base32Alphabet is Crockford-style: excludes I, L, O, U to avoid visual
// confusion when an ID is read aloud or transcribed by hand.
const base32Alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// ParseError reports a malformed ID passed to one of the Parse* functions.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return e.msg }

func parseErrorf(format string, args ...any) error {
	return &ParseError{msg: fmt.Sprintf(format, args...)}
}

// GenerateSuffix returns a random lowercase base32 string of length n.
func GenerateSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base32Alphabet[rand.IntN(32)]
	}
	return string(b)
}

// NormalizeSlug lowercases s, replaces every non-alphanumeric rune with a
// hyphen, collapses runs of hyphens, and trims leading/trailing hyphens.
func NormalizeSlug(s string) string {
	lower := strings.ToLower(s)
	var raw strings.Builder
	for _, r := range lower {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') {
			raw.WriteRune(r)
		} else {
			raw.WriteByte('-')
		}
	}

	var out strings.Builder
	prevHyphen := true // skip leading hyphens
	for _, c := range raw.String() {
		if c == '-' {
			if !prevHyphen {
				out.WriteRune(c)
			}
			prevHyphen = true
		} else {
			out.WriteRune(c)
			prevHyphen = false
		}
	}

	result := out.String()
	return strings.TrimSuffix(result, "-")
}

// GenerateInitiativeID returns "<slug>-<4char suffix>", e.g. "my-initiative-5h18".
func GenerateInitiativeID(name string) string {
	return NormalizeSlug(name) + "-" + GenerateSuffix(4)
}

// GenerateProjectID returns "<slug>-<4char suffix>", e.g. "my-project-5h18".
func GenerateProjectID(name string) string {
	return NormalizeSlug(name) + "-" + GenerateSuffix(4)
}

// GenerateTaskID returns "<projectID>-task-<n>", e.g. "my-project-5h18-task-321".
func GenerateTaskID(projectID string, taskNumber int64) string {
	return fmt.Sprintf("%s-task-%d", projectID, taskNumber)
}

// GenerateCommentID returns "<parentID>-comment-<n>".
func GenerateCommentID(parentID string, commentNumber int64) string {
	return fmt.Sprintf("%s-comment-%d", parentID, commentNumber)
}

// GenerateArtifactID returns "<parentID>-artifact-<n>".
func GenerateArtifactID(parentID string, artifactNumber int64) string {
	return fmt.Sprintf("%s-artifact-%d", parentID, artifactNumber)
}

// GenerateSessionID returns "sess-<YYYYMMDD>-<4char suffix>".
func GenerateSessionID(now time.Time) string {
	return fmt.Sprintf("sess-%s-%s", now.UTC().Format("20060102"), GenerateSuffix(4))
}

// GenerateCheckpointID returns "chkpt-<8char suffix>".
func GenerateCheckpointID() string {
	return "chkpt-" + GenerateSuffix(8)
}

// GenerateWorkerID returns "worker-<8char suffix>".
func GenerateWorkerID() string {
	return "worker-" + GenerateSuffix(8)
}

// GenerateRunID returns "run-<8char suffix>".
func GenerateRunID() string {
	return "run-" + GenerateSuffix(8)
}

// ParseInitiativeSlug extracts the slug portion of an initiative ID
// ("<slug>-<4char suffix>").
func ParseInitiativeSlug(id string) (string, error) {
	if len(id) < 5 {
		return "", parseErrorf("initiative ID too short: %s", id)
	}
	suffixStart := len(id) - 4
	if id[suffixStart-1] != '-' {
		return "", parseErrorf("invalid initiative ID format: %s", id)
	}
	return id[:suffixStart-1], nil
}

// ParseProjectSlug extracts the slug portion of a project ID
// ("<slug>-<4char suffix>").
func ParseProjectSlug(id string) (string, error) {
	if len(id) < 5 {
		return "", parseErrorf("project ID too short: %s", id)
	}
	suffixStart := len(id) - 4
	if id[suffixStart-1] != '-' {
		return "", parseErrorf("invalid project ID format: %s", id)
	}
	return id[:suffixStart-1], nil
}

// ParseTaskID splits a task ID into its project ID and task number.
func ParseTaskID(id string) (projectID string, taskNumber int64, err error) {
	const marker = "-task-"
	pos := strings.LastIndex(id, marker)
	if pos < 0 {
		return "", 0, parseErrorf("invalid task ID format: %s", id)
	}
	projectID = id[:pos]
	n, perr := strconv.ParseInt(id[pos+len(marker):], 10, 64)
	if perr != nil {
		return "", 0, parseErrorf("invalid task number in ID: %s", id)
	}
	return projectID, n, nil
}

// ParseCommentID splits a comment ID into its parent ID and comment number.
func ParseCommentID(id string) (parentID string, commentNumber int64, err error) {
	const marker = "-comment-"
	pos := strings.LastIndex(id, marker)
	if pos < 0 {
		return "", 0, parseErrorf("invalid comment ID format: %s", id)
	}
	parentID = id[:pos]
	n, perr := strconv.ParseInt(id[pos+len(marker):], 10, 64)
	if perr != nil {
		return "", 0, parseErrorf("invalid comment number in ID: %s", id)
	}
	return parentID, n, nil
}

// ParseArtifactID splits an artifact ID into its parent ID and artifact number.
func ParseArtifactID(id string) (parentID string, artifactNumber int64, err error) {
	const marker = "-artifact-"
	pos := strings.LastIndex(id, marker)
	if pos < 0 {
		return "", 0, parseErrorf("invalid artifact ID format: %s", id)
	}
	parentID = id[:pos]
	n, perr := strconv.ParseInt(id[pos+len(marker):], 10, 64)
	if perr != nil {
		return "", 0, parseErrorf("invalid artifact number in ID: %s", id)
	}
	return parentID, n, nil
}

// IsParseError reports whether err is (or wraps) a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
