// Package normalize maps provider webhook bodies onto the canonical
// entitlement event using declared fallback-chain tables.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrUnparseable is returned when a body is neither JSON nor form data.
var ErrUnparseable = errors.New("payload is neither JSON nor form-encoded")

// Payload is a decoded provider body. Values are whatever the wire carried:
// nested maps and slices for JSON, strings for form data.
type Payload map[string]any

// Parse decodes body according to contentType, retrying with the other
// encoding when the declared one fails. An empty body yields an empty payload.
func Parse(contentType string, body []byte) (Payload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Payload{}, nil
	}

	ct := strings.ToLower(contentType)
	decoders := []func([]byte) (Payload, error){parseJSON, parseForm}
	if strings.Contains(ct, "x-www-form-urlencoded") {
		decoders = []func([]byte) (Payload, error){parseForm, parseJSON}
	}

	var errs []error
	for _, decode := range decoders {
		p, err := decode(body)
		if err == nil {
			return p, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnparseable, errors.Join(errs...))
}

func parseJSON(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var p map[string]any
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("decode json: top-level value is not an object")
	}
	return Payload(p), nil
}

func parseForm(body []byte) (Payload, error) {
	raw := strings.TrimSpace(string(body))
	if !strings.Contains(raw, "=") {
		return nil, fmt.Errorf("decode form: no key=value pairs")
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("decode form: %w", err)
	}
	return FromQuery(values), nil
}

// FromQuery builds a payload from URL query or form values. Repeated keys
// keep their first value.
func FromQuery(values url.Values) Payload {
	p := make(Payload, len(values))
	for k, v := range values {
		if k == "" || len(v) == 0 {
			continue
		}
		p[k] = v[0]
	}
	return p
}

// Merge copies keys from other that p does not already carry.
func (p Payload) Merge(other Payload) Payload {
	if p == nil {
		p = Payload{}
	}
	for k, v := range other {
		if _, ok := p[k]; !ok {
			p[k] = v
		}
	}
	return p
}

// Lookup resolves a dotted path (numeric segments index arrays) and returns
// the value coerced to a trimmed string. Missing paths yield "".
func (p Payload) Lookup(path string) string {
	v, ok := p.resolve(path)
	if !ok {
		return ""
	}
	return coerce(v)
}

// Object resolves path to a nested object, if it is one.
func (p Payload) Object(path string) (Payload, bool) {
	v, ok := p.resolve(path)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return Payload(m), true
}

// First returns the first non-empty value among paths.
func (p Payload) First(paths ...string) string {
	for _, path := range paths {
		if v := p.Lookup(path); v != "" {
			return v
		}
	}
	return ""
}

func (p Payload) resolve(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	// Flat keys containing dots (form bodies) win over nested resolution.
	if v, ok := p[path]; ok {
		return v, true
	}

	var cur any = map[string]any(p)
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case Payload:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func coerce(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		if strings.ContainsAny(val.String(), "eE") {
			if f, err := val.Float64(); err == nil {
				return strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case map[string]any, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
