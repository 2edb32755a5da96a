package sqlite

import (
	"encoding/json"
	"fmt"
)

// marshalTags renders a tag slice as the JSON array stored in TEXT columns.
// A nil slice renders as "[]" so scans never have to special-case NULL.
func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}

func unmarshalTags(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return tags, nil
}

func marshalRawOrEmpty(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	return string(raw)
}

func nullableRaw(raw string) any {
	if raw == "" {
		return nil
	}
	return raw
}
