package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse marks model output that does not contain a usable JSON
// array. It is distinct from a well-formed array that matches nothing.
var ErrMalformedResponse = errors.New("malformed model response")

const rawSnippetLen = 200

// MalformedError carries a truncated copy of the offending text.
type MalformedError struct {
	Detail string
	Raw    string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %s (raw: %q)", ErrMalformedResponse, e.Detail, e.Raw)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedResponse
}

func malformed(detail, raw string) error {
	return &MalformedError{Detail: detail, Raw: truncate(strings.TrimSpace(raw), rawSnippetLen)}
}

// ParseResponse extracts the JSON array between the first '[' and the last ']'
// of text and decodes each element independently. Elements that are not
// objects with numeric "start" and "end" come back as empty RawRanges, which
// Sanitize drops.
func ParseResponse(text string) ([]RawRange, error) {
	open := strings.Index(text, "[")
	closing := strings.LastIndex(text, "]")
	if open < 0 || closing < open {
		return nil, malformed("no JSON array found", text)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(text[open:closing+1]), &elems); err != nil {
		return nil, malformed(fmt.Sprintf("decode array: %v", err), text)
	}

	out := make([]RawRange, 0, len(elems))
	usable := 0
	for _, elem := range elems {
		r := decodeElement(elem)
		if r.Start != nil && r.End != nil {
			usable++
		}
		out = append(out, r)
	}
	if len(elems) > 0 && usable == 0 {
		return nil, malformed("no element has numeric start and end", text)
	}
	return out, nil
}

func decodeElement(elem json.RawMessage) RawRange {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil {
		return RawRange{}
	}
	return RawRange{
		Start: number(fields["start"]),
		End:   number(fields["end"]),
	}
}

// number accepts JSON numbers only; quoted numbers count as malformed.
func number(v json.RawMessage) *float64 {
	if len(v) == 0 || string(v) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return nil
	}
	return &f
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
