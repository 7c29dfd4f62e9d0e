package problem

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Problem is an RFC7807 Problem Details document with optional extensions.
// It mirrors the Problem schema in the callback OpenAPI document.
type Problem struct {
	Code          *string         `json:"code,omitempty"`
	Detail        *string         `json:"detail,omitempty"`
	Instance      *string         `json:"instance,omitempty"`
	InvalidParams *[]InvalidParam `json:"invalidParams,omitempty"`
	Status        int             `json:"status"`
	Title         string          `json:"title"`
	TraceID       *string         `json:"traceId,omitempty"`
	Type          *string         `json:"type,omitempty"`

	// Extensions holds additional non-standard fields.
	Extensions map[string]any `json:"-"`
}

type InvalidParam struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type Option func(*Problem)

func New(opts ...Option) *Problem {
	p := &Problem{
		Type:   strPtr("about:blank"),
		Title:  http.StatusText(http.StatusInternalServerError),
		Status: http.StatusInternalServerError,
		Detail: strPtr("unhandled error"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.Type == nil {
		p.Type = strPtr("about:blank")
	}
	if p.Title == "" {
		if t := http.StatusText(p.Status); t != "" {
			p.Title = t
		} else {
			p.Title = "Unknown Error"
		}
	}
	return p
}

func Write(w http.ResponseWriter, p *Problem) {
	if p == nil {
		p = Internal("server error")
	}
	w.Header().Set("Content-Type", "application/problem+json")
	if secs, ok := p.Extensions["retryAfterSeconds"].(int64); ok && secs > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func WithStatus(status int) Option {
	return func(p *Problem) { p.Status = status }
}

func WithTitle(title string) Option {
	return func(p *Problem) { p.Title = title }
}

func WithDetail(detail string) Option {
	return func(p *Problem) { p.Detail = strPtr(detail) }
}

func WithType(typ string) Option {
	return func(p *Problem) { p.Type = strPtr(typ) }
}

func WithCode(code string) Option {
	return func(p *Problem) { p.Code = strPtr(code) }
}

func WithTraceID(traceID string) Option {
	return func(p *Problem) { p.TraceID = strPtr(traceID) }
}

func WithInvalidParam(name, reason string) Option {
	return func(p *Problem) {
		if p.InvalidParams == nil {
			s := []InvalidParam{{Name: name, Reason: reason}}
			p.InvalidParams = &s
			return
		}
		s := append(*p.InvalidParams, InvalidParam{Name: name, Reason: reason})
		p.InvalidParams = &s
	}
}

func WithExtension(key string, value any) Option {
	return func(p *Problem) {
		if p.Extensions == nil {
			p.Extensions = map[string]any{}
		}
		p.Extensions[key] = value
	}
}

// WithTraceContext stamps the id of the span active in ctx, if any, so a
// client can quote it back when reporting a failed callback.
func WithTraceContext(ctx context.Context) Option {
	return func(p *Problem) {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			p.TraceID = strPtr(sc.TraceID().String())
		}
	}
}

func ofStatus(status int, title, detail string, opts []Option) *Problem {
	return New(append([]Option{WithTitle(title), WithStatus(status), WithDetail(detail)}, opts...)...)
}

func BadRequest(detail string, opts ...Option) *Problem {
	return ofStatus(http.StatusBadRequest, "Bad Request", detail, opts)
}

func Forbidden(detail string, opts ...Option) *Problem {
	return ofStatus(http.StatusForbidden, "Forbidden", detail, opts)
}

func NotFound(detail string, opts ...Option) *Problem {
	return ofStatus(http.StatusNotFound, "Not Found", detail, opts)
}

func MethodNotAllowed(detail string, opts ...Option) *Problem {
	return ofStatus(http.StatusMethodNotAllowed, "Method Not Allowed", detail, opts)
}

func PayloadTooLarge(detail string, opts ...Option) *Problem {
	return ofStatus(http.StatusRequestEntityTooLarge, "Content Too Large", detail, opts)
}

func TooManyRequests(detail string, opts ...Option) *Problem {
	return ofStatus(http.StatusTooManyRequests, "Too Many Requests", detail, opts)
}

func Internal(detail string, opts ...Option) *Problem {
	return ofStatus(http.StatusInternalServerError, "Internal Server Error", detail, opts)
}

// ServiceUnavailable tells the caller to retry later; retryAfter <= 0 omits the header hint.
func ServiceUnavailable(detail string, retryAfter time.Duration, opts ...Option) *Problem {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		opts = append([]Option{WithExtension("retryAfterSeconds", secs)}, opts...)
	}
	return ofStatus(http.StatusServiceUnavailable, "Service Unavailable", detail, opts)
}

func strPtr(s string) *string { return &s }

// MarshalJSON merges Extensions into the base Problem object.
func (p Problem) MarshalJSON() ([]byte, error) {
	// alias drops the method set so json.Marshal does not recurse into MarshalJSON
	type alias Problem
	base, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extensions) == 0 {
		return base, nil
	}
	var m map[string]any
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range p.Extensions {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	return json.Marshal(m)
}
