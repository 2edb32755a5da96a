// Package duetime parses the due_at field accepted on tasks: either an
// RFC3339 timestamp, or a natural-language expression
// like "tomorrow at 5pm" or "in 3 days".
package duetime

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// Parse resolves input relative to base, trying RFC3339 first and falling
// back to natural-language parsing. An empty input returns a zero time
// and no error — callers treat that as "unset".
func Parse(input string, base time.Time) (time.Time, error) {
	if input == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}

	result, err := parser.Parse(input, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse due time %q: %w", input, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("could not understand due time %q", input)
	}
	return result.Time, nil
}
