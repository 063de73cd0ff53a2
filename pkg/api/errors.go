package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sigweihq/dotclaim/pkg/claim"
	"github.com/sigweihq/dotclaim/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, types.ErrorResponse{Error: message, Details: details})
}

// statusFor maps orchestrator errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, errSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, claim.ErrBusy),
		errors.Is(err, claim.ErrTerminal),
		errors.Is(err, claim.ErrStale),
		errors.Is(err, claim.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, claim.ErrNotConnected),
		errors.Is(err, claim.ErrNotEligible),
		errors.Is(err, claim.ErrEmptyDestination),
		errors.Is(err, claim.ErrNotSubmitted):
		return http.StatusPreconditionFailed
	}

	switch claim.KindOf(err) {
	case claim.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case claim.KindConnectionRefused, claim.KindSigningRejected:
		return http.StatusForbidden
	case claim.KindRPCUnreachable, claim.KindEligibilityRead, claim.KindSubmissionFailure, claim.KindSigningFailure:
		return http.StatusBadGateway
	case claim.KindFinalityFailure:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeClaimError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error(), string(claim.KindOf(err)))
}
