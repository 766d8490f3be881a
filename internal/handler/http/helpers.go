package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/order"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("http: failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("http: failed to write JSON response")
	}
}

// respondWithServiceError writes err with its mapped status. Creation failures
// and unexpected errors never expose their cause.
func respondWithServiceError(w http.ResponseWriter, err error) {
	code := mapErrorToStatusCode(err)
	switch {
	case errors.Is(err, order.ErrCreationFailed):
		respondWithError(w, code, "Check logs")
	case code == http.StatusInternalServerError:
		log.Error().Err(err).Msg("http: unexpected service error")
		respondWithError(w, code, "internal error")
	default:
		respondWithError(w, code, err.Error())
	}
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrCreationFailed), errors.Is(err, order.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidStatusTransition), errors.Is(err, order.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, order.ErrDependencyUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
