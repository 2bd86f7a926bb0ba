package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/keyshop/internal/core/domain"
)

type mappedError struct {
	httpStatus int
	grpcCode   codes.Code
	message    string
}

// mapError turns a service failure into what both boundaries report. Unknown errors never leak.
func mapError(err error) mappedError {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		return mappedError{http.StatusBadRequest, codes.InvalidArgument, msgInvalidQuantity}
	case errors.Is(err, domain.ErrProductNotFound):
		return mappedError{http.StatusNotFound, codes.NotFound, msgProductNotFound}
	case errors.Is(err, domain.ErrInsufficientStock):
		return mappedError{http.StatusGone, codes.FailedPrecondition, msgNotEnoughKeys}
	case errors.Is(err, domain.ErrTransactionNotFound):
		// soft failure: the lookup itself succeeded
		return mappedError{http.StatusOK, codes.OK, msgTransactionNotFound}
	case errors.Is(err, domain.ErrNotificationNotFound):
		return mappedError{http.StatusNotFound, codes.NotFound, msgNotificationMissing}
	case errors.Is(err, domain.ErrKeyNotFound):
		return mappedError{http.StatusNotFound, codes.NotFound, msgKeyNotFound}
	case errors.Is(err, domain.ErrInvalidInput):
		return mappedError{http.StatusBadRequest, codes.InvalidArgument, err.Error()}
	default:
		return mappedError{http.StatusInternalServerError, codes.Internal, msgInternal}
	}
}

func failure(err error) Envelope {
	env := Envelope{Status: false, Message: mapError(err).message}
	if txID, ok := domain.TransactionIDOf(err); ok {
		env.TransactionID = txID
	}
	return env
}
