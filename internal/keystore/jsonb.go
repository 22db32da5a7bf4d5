package keystore

import "encoding/json"

// toJSONB marshals a free-form metadata map for storage in a JSONB column,
// returning nil for an empty map so the column stores SQL NULL.
func toJSONB(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

// fromJSONB unmarshals a JSONB column's raw bytes back into a metadata map.
func fromJSONB(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
