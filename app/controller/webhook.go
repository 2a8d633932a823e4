package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collections/app/factory"
	"github.com/vibast-solutions/ms-go-collections/app/service"
	"github.com/vibast-solutions/ms-go-collections/app/types"
)

type WebhookController struct {
	linkService *service.PaymentLinkService
	logger      logrus.FieldLogger
}

func NewWebhookController(linkService *service.PaymentLinkService) *WebhookController {
	return &WebhookController{
		linkService: linkService,
		logger:      factory.NewModuleLogger("webhook-controller"),
	}
}

func (c *WebhookController) HandleStripe(ctx echo.Context) error {
	req, err := types.NewStripeWebhookRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	if _, err := c.linkService.HandleWebhook(ctx.Request().Context(), req.GetPayload(), req.GetSignature()); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature), errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			c.logger.WithError(err).Error("Handle stripe webhook failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.WebhookResponse{Received: true})
}

func (c *WebhookController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
