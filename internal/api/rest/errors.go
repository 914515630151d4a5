package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/KevinKickass/OpenStageCore/internal/types"
	"github.com/gin-gonic/gin"
)

// stageErrorStatus classifies an error returned by a stage operation.
func stageErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, stage.ErrLengthMismatch),
		errors.Is(err, stage.ErrUnknownAxis),
		errors.Is(err, stage.ErrMissingAxis),
		errors.Is(err, stage.ErrFractional),
		errors.Is(err, stage.ErrOutOfRange):
		return http.StatusBadRequest, types.CodeStageBadRequest
	case errors.Is(err, stage.ErrNotImplemented):
		return http.StatusNotImplemented, types.CodeStageUnsupported
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, types.CodeStageTimeout
	default:
		return http.StatusBadGateway, types.CodeStageDevice
	}
}

func respondStageError(c *gin.Context, message string, err error) {
	status, code := stageErrorStatus(err)
	_ = c.Error(err)
	c.JSON(status, types.NewErrorResponse(code, message, err.Error()))
}
