package httpapi

import (
	"encoding/json"
	"strconv"
	"strings"
)

// coerceInt64Array accepts an MCP-style string-encoded array ("[1,2,3]" or
// "1,2,3") in addition to a plain JSON array, since hooks occasionally
// serialize list parameters as a single string value. It is applied at the
// request-decoding boundary, before any validation.
func coerceInt64Array(raw json.RawMessage) ([]int64, error) {
	var direct []int64
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
