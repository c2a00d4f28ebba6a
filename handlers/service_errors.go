package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/tenant-auth/services"
	"github.com/upb/tenant-auth/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	message := services.GetErrorMessage(err)

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, message)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, message, details)

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, message, details)

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleOAuthError maps domain errors at the OAuth endpoints onto the
// RFC 6749 error codes.
func HandleOAuthError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	message := services.GetErrorMessage(err)

	var writeErr error
	switch {
	case errors.Is(err, services.ErrUnauthorizedScope):
		writeErr = utils.WriteErrorCode(w, http.StatusBadRequest, "invalid_scope", message, details)

	case errors.Is(err, services.ErrUnsupportedGrant):
		writeErr = utils.WriteErrorCode(w, http.StatusBadRequest, "unsupported_grant_type", message, details)

	case services.IsValidationError(err):
		writeErr = utils.WriteErrorCode(w, http.StatusBadRequest, "invalid_request", message, details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteErrorCode(w, http.StatusUnauthorized, "invalid_grant", message, nil)

	case services.IsForbiddenError(err):
		writeErr = utils.WriteErrorCode(w, http.StatusForbidden, "access_denied", message, nil)

	default:
		HandleServiceError(w, err, logger)
		return
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		if err := utils.WriteBadRequest(w, "Validation failed", map[string]interface{}{"fields": fields}); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
