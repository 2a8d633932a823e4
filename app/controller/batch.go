package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collections/app/factory"
	"github.com/vibast-solutions/ms-go-collections/app/mapper"
	"github.com/vibast-solutions/ms-go-collections/app/progress"
	"github.com/vibast-solutions/ms-go-collections/app/service"
	"github.com/vibast-solutions/ms-go-collections/app/types"
)

type BatchController struct {
	jobs   *service.JobOrchestrator
	logger logrus.FieldLogger
}

func NewBatchController(jobs *service.JobOrchestrator) *BatchController {
	return &BatchController{
		jobs:   jobs,
		logger: factory.NewModuleLogger("batch-controller"),
	}
}

func (c *BatchController) GeneratePaymentLinks(ctx echo.Context) error {
	req, err := types.NewGeneratePaymentLinksRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.jobs.TriggerGenerateLinks(ctx.Request().Context(), req.GetClientIds())
	if err != nil {
		return c.writeTriggerError(ctx, err, "Generate payment links failed")
	}

	return ctx.JSON(triggerStatus(result), mapper.TriggerToResponse(result))
}

func (c *BatchController) CancelGeneratePaymentLinks(ctx echo.Context) error {
	return c.cancel(ctx, progress.OperationGenerateLinks)
}

func (c *BatchController) BatchSendSms(ctx echo.Context) error {
	req, err := types.NewBatchSendSmsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.jobs.TriggerBatchSms(ctx.Request().Context(), req.GetLinkIds())
	if err != nil {
		return c.writeTriggerError(ctx, err, "Batch sms failed")
	}

	return ctx.JSON(triggerStatus(result), mapper.TriggerToResponse(result))
}

func (c *BatchController) CancelBatchSendSms(ctx echo.Context) error {
	return c.cancel(ctx, progress.OperationBatchSms)
}

func (c *BatchController) FetchAllStatuses(ctx echo.Context) error {
	result, err := c.jobs.TriggerFetchAll(ctx.Request().Context())
	if err != nil {
		return c.writeTriggerError(ctx, err, "Fetch all statuses failed")
	}

	return ctx.JSON(triggerStatus(result), mapper.TriggerToResponse(result))
}

func (c *BatchController) Progress(ctx echo.Context) error {
	req, err := types.NewProgressRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	snapshot, err := c.jobs.Progress(ctx.Request().Context(), req.GetOperation())
	if err != nil {
		if errors.Is(err, service.ErrUnknownOperation) {
			return c.writeError(ctx, http.StatusNotFound, "unknown operation")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Read progress failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, mapper.ProgressToResponse(req.GetOperation(), snapshot))
}

func (c *BatchController) cancel(ctx echo.Context, operation string) error {
	result, err := c.jobs.Cancel(ctx.Request().Context(), operation)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Cancel batch failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.CancelBatchResponse{Removed: result.Removed, Message: result.Message})
}

func (c *BatchController) writeTriggerError(ctx echo.Context, err error, logMessage string) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrBatchInProgress):
		return c.writeError(ctx, http.StatusConflict, err.Error())
	default:
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(logMessage)
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
}

func (c *BatchController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}

func triggerStatus(result *service.TriggerResult) int {
	if result.Queued {
		return http.StatusAccepted
	}
	return http.StatusOK
}
