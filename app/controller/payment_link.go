package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collections/app/factory"
	"github.com/vibast-solutions/ms-go-collections/app/mapper"
	"github.com/vibast-solutions/ms-go-collections/app/service"
	"github.com/vibast-solutions/ms-go-collections/app/types"
)

type PaymentLinkController struct {
	linkService *service.PaymentLinkService
	logger      logrus.FieldLogger
}

func NewPaymentLinkController(linkService *service.PaymentLinkService) *PaymentLinkController {
	return &PaymentLinkController{
		linkService: linkService,
		logger:      factory.NewModuleLogger("payment-links-controller"),
	}
}

func (c *PaymentLinkController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentLinkController) CreatePaymentLink(ctx echo.Context) error {
	req, err := types.NewCreatePaymentLinkRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	var description *string
	if d := req.GetDescription(); d != "" {
		description = &d
	}

	item, err := c.linkService.StoreForClientID(ctx.Request().Context(), req.GetClientId(), req.GetAmount(), description)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrClientNotFound):
			return c.writeError(ctx, http.StatusNotFound, "client not found")
		case errors.Is(err, service.ErrGateway):
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Create payment link failed at gateway")
			return c.writeError(ctx, http.StatusBadGateway, "payment gateway error")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Create payment link failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.PaymentLinkEnvelopeResponse{PaymentLink: mapper.PaymentLinkToResponse(item)})
}

func (c *PaymentLinkController) GetPaymentLink(ctx echo.Context) error {
	req, err := types.NewPaymentLinkIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.linkService.GetPaymentLink(ctx.Request().Context(), req.GetId())
	if err != nil {
		if errors.Is(err, service.ErrPaymentLinkNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "payment link not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get payment link failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.PaymentLinkEnvelopeResponse{PaymentLink: mapper.PaymentLinkToResponse(item)})
}

func (c *PaymentLinkController) ListPaymentLinks(ctx echo.Context) error {
	req, err := types.NewListPaymentLinksRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.linkService.ListPaymentLinks(ctx.Request().Context(), req)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List payment links failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListPaymentLinksResponse{PaymentLinks: mapper.PaymentLinksToResponse(items)})
}

func (c *PaymentLinkController) ListClientPaymentLinks(ctx echo.Context) error {
	req, err := types.NewClientIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.linkService.ListClientPaymentLinks(ctx.Request().Context(), req.GetClientId())
	if err != nil {
		if errors.Is(err, service.ErrClientNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "client not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List client payment links failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListPaymentLinksResponse{PaymentLinks: mapper.PaymentLinksToResponse(items)})
}

func (c *PaymentLinkController) DeletePaymentLink(ctx echo.Context) error {
	req, err := types.NewPaymentLinkIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	if err := c.linkService.Destroy(ctx.Request().Context(), req.GetId()); err != nil {
		if errors.Is(err, service.ErrPaymentLinkNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "payment link not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Delete payment link failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Payment link deleted"})
}

func (c *PaymentLinkController) SendSms(ctx echo.Context) error {
	req, err := types.NewPaymentLinkIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, result, err := c.linkService.SendSmsByID(ctx.Request().Context(), req.GetId())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentLinkNotFound):
			return c.writeError(ctx, http.StatusNotFound, "payment link not found")
		case errors.Is(err, service.ErrClientNotFound):
			return c.writeError(ctx, http.StatusNotFound, "client not found")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Send payment link sms failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.SmsResponse{
		PaymentLink: mapper.PaymentLinkToResponse(item),
		Sent:        result.Sent(),
		Error:       result.Error,
	})
}

func (c *PaymentLinkController) SendToPhone(ctx echo.Context) error {
	req, err := types.NewSendToPhoneRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, result, err := c.linkService.SendToPhone(ctx.Request().Context(), req.GetClientId(), req.GetPhone())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrClientNotFound):
			return c.writeError(ctx, http.StatusNotFound, "client not found")
		case errors.Is(err, service.ErrGateway):
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Send to phone failed at gateway")
			return c.writeError(ctx, http.StatusBadGateway, "payment gateway error")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Send to phone failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.SmsResponse{
		PaymentLink: mapper.PaymentLinkToResponse(item),
		Sent:        result.Sent(),
		Error:       result.Error,
	})
}

func (c *PaymentLinkController) FetchStatus(ctx echo.Context) error {
	req, err := types.NewPaymentLinkIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.linkService.FetchStatusByID(ctx.Request().Context(), req.GetId())
	if err != nil {
		if errors.Is(err, service.ErrPaymentLinkNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "payment link not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Fetch payment status failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.FetchStatusResponse{
		PaymentLinkId: result.LinkID,
		Status:        result.Status,
		Message:       result.Message,
	})
}

func (c *PaymentLinkController) Dashboard(ctx echo.Context) error {
	stats, err := c.linkService.DashboardStats(ctx.Request().Context(), time.Now().UTC())
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Dashboard stats failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, mapper.DashboardToResponse(stats))
}

func (c *PaymentLinkController) NextSmsBatch(ctx echo.Context) error {
	batch, err := c.linkService.NextSmsBatch(ctx.Request().Context())
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Next sms batch failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.NextSmsBatchResponse{
		LinkIds:     batch.LinkIDs,
		Count:       len(batch.LinkIDs),
		UnsentCount: batch.UnsentCount,
	})
}

func (c *PaymentLinkController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
