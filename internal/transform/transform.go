// Package transform canonicalizes raw upstream HTTP responses so that
// independently fetched copies of the same response compare byte-identical.
// Everything here is pure: no I/O, no clock, bounded allocation.
package transform

import "sort"

// MaxBodyBytes bounds the canonical body. Oversized bodies are truncated
// deterministically, never refetched.
const MaxBodyBytes = 2 << 20

// Header is a single HTTP header pair.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RawResponse is the wire-level view of an upstream HTTP response. It is
// both the input response shape and the canonical output shape.
type RawResponse struct {
	Status  int64    `json:"status"`
	Headers []Header `json:"headers"`
	Body    []byte   `json:"body"`
}

// Input carries the response to canonicalize plus opaque caller context.
// Context is accepted for interface compatibility; it does not influence
// the output, which keeps the function deterministic in the response alone.
type Input struct {
	Response RawResponse `json:"response"`
	Context  []byte      `json:"context"`
}

// Headers whose values vary between fetches of the same logical response.
var nondeterministicHeaders = map[string]struct{}{
	"date":                {},
	"age":                 {},
	"expires":             {},
	"last-modified":       {},
	"set-cookie":          {},
	"etag":                {},
	"server":              {},
	"server-timing":       {},
	"via":                 {},
	"x-request-id":        {},
	"x-amz-request-id":    {},
	"x-amz-id-2":          {},
	"x-amzn-requestid":    {},
	"x-amzn-trace-id":     {},
	"cf-ray":              {},
	"cf-cache-status":     {},
	"x-cache":             {},
	"x-served-by":         {},
	"x-timer":             {},
	"x-goog-generation":   {},
	"alt-svc":             {},
	"report-to":           {},
	"nel":                 {},
	"retry-after":         {},
	"x-ratelimit-limit":   {},
	"x-ratelimit-remaining": {},
	"x-ratelimit-reset":   {},
	"authorization":       {},
	"proxy-authorization": {},
	"www-authenticate":    {},
}

// Canonicalize maps a raw response to its canonical form:
// header names lowercased and trimmed of surrounding whitespace,
// nondeterministic headers dropped, the remainder sorted by name then
// value, and the body truncated at MaxBodyBytes. Repeated invocations on
// identical input yield byte-identical output.
func Canonicalize(in Input) RawResponse {
	out := RawResponse{Status: in.Response.Status}

	out.Headers = make([]Header, 0, len(in.Response.Headers))
	for _, h := range in.Response.Headers {
		name := foldName(h.Name)
		if name == "" {
			continue
		}
		if _, drop := nondeterministicHeaders[name]; drop {
			continue
		}
		out.Headers = append(out.Headers, Header{Name: name, Value: h.Value})
	}
	sort.Slice(out.Headers, func(i, j int) bool {
		if out.Headers[i].Name != out.Headers[j].Name {
			return out.Headers[i].Name < out.Headers[j].Name
		}
		return out.Headers[i].Value < out.Headers[j].Value
	})

	body := in.Response.Body
	if len(body) > MaxBodyBytes {
		body = body[:MaxBodyBytes]
	}
	out.Body = append([]byte(nil), body...)

	return out
}

// foldName lowercases ASCII and trims spaces without touching non-ASCII
// bytes, so the fold is locale-independent.
func foldName(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	b := make([]byte, end-start)
	for i := start; i < end; i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i-start] = c
	}
	return string(b)
}
