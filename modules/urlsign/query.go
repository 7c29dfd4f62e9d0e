package urlsign

import (
	"net/url"
	"slices"
	"strings"
)

// Param is a single query parameter. Name and Value are unescaped.
type Param struct {
	Name  string
	Value string
}

// Query is an ordered list of query parameters.
//
// Unlike url.Values it keeps insertion order, which matters because the
// encoded query is part of the signed payload.
type Query struct {
	params []Param
}

// NewQuery starts a query with an optional initial set of params.
func NewQuery(params ...Param) *Query {
	q := &Query{}
	for _, p := range params {
		q.Add(p.Name, p.Value)
	}
	return q
}

// Add appends name=value and returns the query for chaining.
func (q *Query) Add(name, value string) *Query {
	q.params = append(q.params, Param{Name: name, Value: value})
	return q
}

func (q *Query) Len() int {
	if q == nil {
		return 0
	}
	return len(q.params)
}

// Encode renders the params in insertion order, form-encoding names and values.
func (q *Query) Encode() string {
	if q.Len() == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range q.params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// AppendQuery appends q to rawURL, choosing between '?' and '&' based on
// whether rawURL already carries a query. An empty q returns rawURL as is.
func AppendQuery(rawURL string, q *Query) string {
	encoded := q.Encode()
	if encoded == "" {
		return rawURL
	}
	return rawURL + separator(rawURL) + encoded
}

// AppendParam is AppendQuery for a single parameter.
func AppendParam(rawURL, name, value string) string {
	return AppendQuery(rawURL, NewQuery(Param{Name: name, Value: value}))
}

func separator(rawURL string) string {
	i := strings.IndexByte(rawURL, '?')
	switch {
	case i < 0:
		return "?"
	case strings.HasSuffix(rawURL, "?"), strings.HasSuffix(rawURL, "&"):
		return ""
	default:
		return "&"
	}
}

// splitQuery splits a raw query on '&' without decoding. Tokens are kept
// literally, including empty ones and tokens with repeated '='.
func splitQuery(rawQuery string) []string {
	if rawQuery == "" {
		return nil
	}
	return strings.Split(rawQuery, "&")
}

// paramName is the text before the first '=' of a raw token.
func paramName(token string) string {
	name, _, _ := strings.Cut(token, "=")
	return name
}

// FilterQuery drops every raw token of rawQuery whose name is in exclude,
// keeping the order of the remaining tokens. Names match case-sensitively
// and tokens are never decoded or re-encoded.
func FilterQuery(rawQuery string, exclude ...string) string {
	tokens := splitQuery(rawQuery)
	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if slices.Contains(exclude, paramName(token)) {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, "&")
}

// Canonical is the string a URL is signed over: requestURL plus the filtered
// query, with no dangling '?' when nothing is left.
func Canonical(requestURL, rawQuery string, exclude ...string) string {
	if filtered := FilterQuery(rawQuery, exclude...); filtered != "" {
		return requestURL + "?" + filtered
	}
	return requestURL
}
