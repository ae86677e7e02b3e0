package luna

import (
	"context"
	"errors"
	"net/http"

	"audiod/internal/core/domain"
	apperrors "audiod/pkg/errors"
)

// ToAppError maps an engine error to the Luna error reply for stream.
func ToAppError(err error, stream domain.StreamID) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrUnknownStream):
		return apperrors.NewUnknownStreamError(string(stream))
	case errors.Is(err, domain.ErrVolumeOutOfRange), errors.Is(err, domain.ErrVolumeNotAdjustable):
		return apperrors.NewVolumeOutOfRangeError(err.Error())
	case errors.Is(err, domain.ErrInvalidParameter):
		return apperrors.NewInvalidParametersError(err.Error())
	case errors.Is(err, domain.ErrBackendUnavailable):
		return apperrors.NewBackendUnavailableError(err)
	case errors.Is(err, domain.ErrEngineStopped):
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "Audio policy engine is not running", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "Request cancelled", http.StatusServiceUnavailable)
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "Internal error", http.StatusInternalServerError)
	}
}
