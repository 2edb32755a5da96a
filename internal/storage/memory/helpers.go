package memory

import "encoding/json"

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

func jsonUnmarshalInto(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
