package domain

import "notifyhook/modules/urlsign"

// FilterQuery drops every raw token of rawQuery whose name (the text before
// the first '=') is in exclude, keeping the order of the remaining tokens.
// The delegated mode filters through the same helper, so both modes agree.
func FilterQuery(rawQuery string, exclude []string) string {
	return urlsign.FilterQuery(rawQuery, exclude...)
}

// Canonicalize rebuilds the signed string for a request. With nothing left
// after filtering the result is exactly requestURL, with no dangling '?'.
func Canonicalize(requestURL, rawQuery string, exclude ...string) CanonicalRequest {
	return CanonicalRequest(urlsign.Canonical(requestURL, rawQuery, exclude...))
}
