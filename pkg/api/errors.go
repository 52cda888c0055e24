package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/querygate/querygate/pkg/models"
)

// mapPipelineError maps core errors to HTTP error responses.
func mapPipelineError(err error) *echo.HTTPError {
	var perr *models.PipelineError
	if errors.As(err, &perr) {
		return echo.NewHTTPError(statusForKind(perr.Kind), perr.Message)
	}
	switch {
	case errors.Is(err, models.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "query not found")
	case errors.Is(err, models.ErrDuplicateApproval):
		return echo.NewHTTPError(http.StatusConflict, string(models.ErrKindApprovalDuplicate))
	case errors.Is(err, models.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "you do not own this query")
	case errors.Is(err, models.ErrBreakerOpen):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "backend temporarily unavailable")
	}

	slog.Error("Unexpected pipeline error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindValidationEmpty, models.ErrKindValidationTooLong:
		return http.StatusBadRequest
	case models.ErrKindUnauthorized:
		return http.StatusUnauthorized
	case models.ErrKindApprovalForbidden:
		return http.StatusForbidden
	case models.ErrKindNotFound:
		return http.StatusNotFound
	case models.ErrKindApprovalDuplicate:
		return http.StatusConflict
	case models.ErrKindQuotaExceeded:
		return http.StatusTooManyRequests
	case models.ErrKindBreakerOpen:
		return http.StatusServiceUnavailable
	case models.ErrKindExecutionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusOK
	}
}
