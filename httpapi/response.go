package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"guildcourt/auth"
	"guildcourt/dispute"
)

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Status string       `json:"status"`
	Error  ErrorPayload `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, SuccessResponse{
		Status:  "success",
		Message: message,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	writeJSON(w, status, ErrorResponse{
		Status: "error",
		Error: ErrorPayload{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	})
}

func mapDomainError(err error) (status int, code string) {
	if errors.Is(err, auth.ErrUnauthenticated) {
		return http.StatusUnauthorized, "unauthorized"
	}
	switch dispute.KindOf(err) {
	case "":
		return http.StatusOK, ""
	case dispute.KindValidation:
		return http.StatusBadRequest, "invalid_input"
	case dispute.KindAuthorization:
		return http.StatusForbidden, "forbidden"
	case dispute.KindConflict:
		return http.StatusConflict, "conflict"
	case dispute.KindNotFound:
		return http.StatusNotFound, "not_found"
	case dispute.KindInvariant:
		return http.StatusUnprocessableEntity, "invariant_violation"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
