package state

import (
	"encoding/json"
	"maps"

	"github.com/samber/lo"
)

// splitExtra returns the members of the JSON object data that are not listed in known.
func splitExtra(data []byte, known []string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	extra := lo.OmitByKeys(raw, known)
	if len(extra) == 0 {
		return nil, nil
	}
	return extra, nil
}

// mergeExtra adds the extra members to the JSON object data. Known members always win.
func mergeExtra(data []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return data, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	merged := maps.Clone(extra)
	maps.Copy(merged, raw)
	return json.Marshal(merged)
}
