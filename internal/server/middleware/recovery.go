// Package middleware holds the HTTP middleware shared by the worker servers.
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/annflow/internal/observability"
	"github.com/3leaps/annflow/internal/server/handlers"
)

// ErrorResponse is the JSON error body.
type ErrorResponse = handlers.ErrorResponse

// HeaderRequestID carries the request id in and out.
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// GetRequestID returns the id RequestID stored on ctx.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Recovery turns a handler panic into a 500 INTERNAL_ERROR reply.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			reqID := GetRequestID(r.Context())
			observability.CLILogger.Error("http handler panic",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.String("request_id", reqID))

			msg := fmt.Sprintf("panic: %v", rec)
			if err, ok := rec.(error); ok {
				msg = "panic: " + err.Error()
			}
			writeErrorResponse(w, handlers.ErrorBody{
				Code:      handlers.CodeInternal,
				Message:   msg,
				RequestID: reqID,
			}, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func writeErrorResponse(w http.ResponseWriter, body handlers.ErrorBody, status int) {
	handlers.WriteError(w, status, body)
}
