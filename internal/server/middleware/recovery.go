package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hpcbridge/hpcbridge/internal/server/httpjson"
)

// Recovery converts handler panics into structured 500 responses.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", RequestIDFrom(r.Context())))
					httpjson.WriteJSON(w, http.StatusInternalServerError, httpjson.ErrorResponse{
						Error: httpjson.ErrorBody{
							Code:    "INTERNAL_ERROR",
							Message: fmt.Sprintf("panic: %v", rec),
						},
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
