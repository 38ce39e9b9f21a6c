package api

import (
	"errors"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

// Factory helpers returning *apitypes.ApiError (single canonical error type).
func ErrBadRequest(detail string) *apitypes.ApiError {
	return &apitypes.ApiError{Status: 400, Title: "Bad Request", Detail: detail}
}
func ErrUnauthorized(detail string) *apitypes.ApiError {
	return &apitypes.ApiError{Status: 401, Title: "Unauthorized", Detail: detail}
}
func ErrNotFound(detail string) *apitypes.ApiError {
	return &apitypes.ApiError{Status: 404, Title: "Not Found", Detail: detail}
}
func ErrConflict(detail string) *apitypes.ApiError {
	return &apitypes.ApiError{Status: 409, Title: "Conflict", Detail: detail}
}
func ErrInternal(detail string) *apitypes.ApiError {
	return &apitypes.ApiError{Status: 500, Title: "Internal Server Error", Detail: detail}
}

// WrapError normalizes any error into *apitypes.ApiError. Host registry
// errors keep their meaning; anything else is internal.
func WrapError(err error) *apitypes.ApiError {
	if err == nil {
		return nil
	}
	var ae *apitypes.ApiError
	if errors.As(err, &ae) {
		return ae
	}
	var av apitypes.ApiError
	if errors.As(err, &av) {
		return &av
	}
	switch {
	case errors.Is(err, host.ErrNotFound):
		return ErrNotFound(err.Error())
	case errors.Is(err, host.ErrIDInUse), errors.Is(err, host.ErrFull):
		return ErrConflict(err.Error())
	case errors.Is(err, host.ErrIDRange), errors.Is(err, host.ErrUnknownType):
		return ErrBadRequest(err.Error())
	}
	return ErrInternal(err.Error())
}
