package logs

import (
	"encoding/json"
	"net/url"
)

// TranslateQueryFilter converts arbitrary query parameters into a jsonb
// containment filter over log data. Each value is parsed as JSON when
// possible, so "5" matches the number 5 and "true" the boolean true;
// anything unparseable stays a string. Only the first value of a repeated
// key is used. An empty parameter set yields nil, meaning no filtering.
//
// Keys are taken as-is; no schema-aware validation happens here. A key
// nobody's data contains simply matches nothing.
func TranslateQueryFilter(params url.Values) (json.RawMessage, error) {
	if len(params) == 0 {
		return nil, nil
	}
	filter := make(map[string]any, len(params))
	for key := range params {
		value := params.Get(key)
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			filter[key] = value
			continue
		}
		filter[key] = parsed
	}
	return json.Marshal(filter)
}
