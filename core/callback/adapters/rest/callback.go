// Copyright 2025 Nhat-Nguyen Nguyen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"notifyhook/core/callback/domain"
	"notifyhook/modules/api/serde"
	"notifyhook/modules/middleware/problem"
)

type (
	acceptedResponse struct {
		ID string `json:"id"`
	}

	duplicateResponse struct {
		Duplicate bool `json:"duplicate"`
	}
)

// Receive handles GET and POST callbacks:
//
//	403 signature invalid, missing or expired
//	404 provider not in the configured list
//	413 body larger than the configured limit
//	200 duplicate inside the replay window, not dispatched again
//	503 queue full, the platform should retry
//	202 queued, body carries the notification id
func (a *CallbackAPI) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	provider := domain.ProviderID(lastValue(query, domain.ProviderParam))
	signature := lastValue(query, domain.SignatureParam)

	valid := a.app.Verify(RequestURL(r, a.trustProxy), r.URL.RawQuery, signature)
	a.metrics.RecordVerification(ctx, provider.String(), string(a.app.Mode()), valid)
	if !valid {
		reason := "signature mismatch or expired"
		if signature == "" {
			reason = "missing signature"
		}
		slog.WarnContext(ctx, "callback rejected",
			slog.String("provider", provider.String()),
			slog.String("reason", reason),
		)
		problem.Write(w, problem.Forbidden("invalid signature", problem.WithCode("INVALID_SIGNATURE"), problem.WithTraceContext(ctx)))
		return
	}

	if !a.knownProvider(provider) {
		slog.WarnContext(ctx, "callback from unknown provider", slog.String("provider", provider.String()))
		problem.Write(w, problem.NotFound("unknown provider", problem.WithCode("UNKNOWN_PROVIDER")))
		return
	}

	body, err := a.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			problem.Write(w, problem.PayloadTooLarge("notification body too large"))
			return
		}
		slog.WarnContext(ctx, "callback body unreadable", slog.Any("error", err))
		problem.Write(w, problem.BadRequest("unreadable body"))
		return
	}

	if a.replay != nil {
		switch err := a.replay.Check(ctx, provider, r.URL.RawQuery, body); {
		case errors.Is(err, domain.ErrDuplicate):
			a.metrics.RecordDispatch(ctx, provider.String(), "duplicate", 0)
			serde.WriteJSON(w, http.StatusOK, duplicateResponse{Duplicate: true})
			return
		case err != nil:
			// fail open, the platform must not be told to retry forever
			slog.WarnContext(ctx, "replay check failed, accepting notification", slog.Any("error", err))
		}
	}

	id, err := a.newID()
	if err != nil {
		slog.ErrorContext(ctx, "notification id generation failed", slog.Any("error", err))
		problem.Write(w, problem.Internal("server error", problem.WithTraceContext(ctx)))
		return
	}

	n := domain.Notification{
		ID:         id,
		Provider:   provider,
		Method:     r.Method,
		RawQuery:   r.URL.RawQuery,
		Body:       body,
		ReceivedAt: a.clock.Now(),
	}
	if err := a.sink.Accept(ctx, n); err != nil {
		a.forget(r, provider, body)
		if errors.Is(err, domain.ErrQueueFull) || errors.Is(err, domain.ErrQueueClosed) {
			slog.WarnContext(ctx, "notification not queued", slog.Any("error", err))
			problem.Write(w, problem.ServiceUnavailable("notification queue unavailable", a.retryAfter, problem.WithTraceContext(ctx)))
			return
		}
		slog.ErrorContext(ctx, "notification sink failed", slog.Any("error", err))
		problem.Write(w, problem.Internal("server error", problem.WithTraceContext(ctx)))
		return
	}

	serde.WriteJSON(w, http.StatusAccepted, acceptedResponse{ID: id.String()})
}

func (a *CallbackAPI) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody))
}

func (a *CallbackAPI) forget(r *http.Request, provider domain.ProviderID, body []byte) {
	if a.replay == nil {
		return
	}
	if err := a.replay.Forget(r.Context(), provider, r.URL.RawQuery, body); err != nil {
		slog.WarnContext(r.Context(), "replay forget failed", slog.Any("error", err))
	}
}
