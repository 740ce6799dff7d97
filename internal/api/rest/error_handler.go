package rest

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/collectible-exchange/auction-backend/internal/domain/errors"
)

// errorBody is the JSON envelope for every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeError renders an application error as JSON. Unknown error types map
// to a generic 500 so internals never leak to callers.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := errors.GetStatusCode(err)
	body := errorBody{
		Error: errorDetail{
			Code:    "INTERNAL_ERROR",
			Message: "An internal error occurred",
		},
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		body.Error.Code = appErr.Code
		body.Error.Message = appErr.Message
		body.Error.Details = appErr.Details
	}

	if status >= 500 {
		logger.Error("request failed", zap.Error(err))
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
