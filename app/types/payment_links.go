package types

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

const (
	MaxBatchIDs          = 160
	maxDescriptionLength = 255
	maxListLimit         = 500
	maxSearchLength      = 100
)

var (
	minimumAmount   = decimal.RequireFromString("0.01")
	paymentStatuses = map[string]bool{"pending": true, "paid": true, "failed": true, "expired": true}
	smsStatuses     = map[string]bool{"not_sent": true, "sent": true, "failed": true}
)

func NewCreatePaymentLinkRequestFromContext(ctx echo.Context) (*CreatePaymentLinkRequest, error) {
	clientID, err := parseIDParam(ctx, "id")
	if err != nil {
		return nil, err
	}

	var body CreatePaymentLinkRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.ClientId = clientID
	body.Description = strings.TrimSpace(body.Description)

	return &body, nil
}

func (r *CreatePaymentLinkRequest) Validate() error {
	if r.GetClientId() == 0 {
		return errors.New("invalid client id")
	}
	if r.GetAmount().LessThan(minimumAmount) {
		return errors.New("amount must be at least 0.01")
	}
	if !r.GetAmount().Equal(r.GetAmount().Round(2)) {
		return errors.New("amount must have at most 2 decimal places")
	}
	if len(r.GetDescription()) > maxDescriptionLength {
		return fmt.Errorf("description must be at most %d characters", maxDescriptionLength)
	}
	return nil
}

func NewPaymentLinkIDRequestFromContext(ctx echo.Context) (*PaymentLinkIDRequest, error) {
	id, err := parseIDParam(ctx, "id")
	if err != nil {
		return nil, err
	}
	return &PaymentLinkIDRequest{Id: id}, nil
}

func (r *PaymentLinkIDRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid payment link id")
	}
	return nil
}

func NewClientIDRequestFromContext(ctx echo.Context) (*ClientIDRequest, error) {
	id, err := parseIDParam(ctx, "id")
	if err != nil {
		return nil, err
	}
	return &ClientIDRequest{ClientId: id}, nil
}

func (r *ClientIDRequest) Validate() error {
	if r.GetClientId() == 0 {
		return errors.New("invalid client id")
	}
	return nil
}

func NewListPaymentLinksRequestFromContext(ctx echo.Context) (*ListPaymentLinksRequest, error) {
	req := &ListPaymentLinksRequest{
		PaymentStatus: strings.ToLower(strings.TrimSpace(ctx.QueryParam("payment_status"))),
		SmsStatus:     strings.ToLower(strings.TrimSpace(ctx.QueryParam("sms_status"))),
		Search:        strings.TrimSpace(ctx.QueryParam("search")),
		Limit:         100,
	}

	if clientRaw := strings.TrimSpace(ctx.QueryParam("client_id")); clientRaw != "" {
		clientID, err := strconv.ParseUint(clientRaw, 10, 64)
		if err != nil {
			return nil, err
		}
		req.ClientId = clientID
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListPaymentLinksRequest) Validate() error {
	if r.Limit == 0 {
		r.Limit = 100
	}
	if r.GetLimit() <= 0 || r.GetLimit() > maxListLimit {
		return fmt.Errorf("limit must be between 1 and %d", maxListLimit)
	}
	if r.GetOffset() < 0 {
		return errors.New("offset must be >= 0")
	}
	if r.GetPaymentStatus() != "" && !paymentStatuses[r.GetPaymentStatus()] {
		return errors.New("invalid payment_status")
	}
	if r.GetSmsStatus() != "" && !smsStatuses[r.GetSmsStatus()] {
		return errors.New("invalid sms_status")
	}
	if len(r.GetSearch()) > maxSearchLength {
		return fmt.Errorf("search must be at most %d characters", maxSearchLength)
	}
	return nil
}

func NewSendToPhoneRequestFromContext(ctx echo.Context) (*SendToPhoneRequest, error) {
	clientID, err := parseIDParam(ctx, "id")
	if err != nil {
		return nil, err
	}

	var body SendToPhoneRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.ClientId = clientID
	body.Phone = strings.TrimSpace(body.Phone)

	return &body, nil
}

func (r *SendToPhoneRequest) Validate() error {
	if r.GetClientId() == 0 {
		return errors.New("invalid client id")
	}
	if r.GetPhone() == "" {
		return errors.New("phone is required")
	}
	if !strings.ContainsAny(r.GetPhone(), "0123456789") {
		return errors.New("phone must contain digits")
	}
	return nil
}

func NewGeneratePaymentLinksRequestFromContext(ctx echo.Context) (*GeneratePaymentLinksRequest, error) {
	var body GeneratePaymentLinksRequest
	if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &body, nil
}

func (r *GeneratePaymentLinksRequest) Validate() error {
	if len(r.GetClientIds()) > MaxBatchIDs {
		return fmt.Errorf("client_ids accepts at most %d ids", MaxBatchIDs)
	}
	for _, id := range r.GetClientIds() {
		if id == 0 {
			return errors.New("client_ids must contain positive ids")
		}
	}
	return nil
}

func NewBatchSendSmsRequestFromContext(ctx echo.Context) (*BatchSendSmsRequest, error) {
	var body BatchSendSmsRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (r *BatchSendSmsRequest) Validate() error {
	if len(r.GetLinkIds()) == 0 {
		return errors.New("link_ids is required")
	}
	if len(r.GetLinkIds()) > MaxBatchIDs {
		return fmt.Errorf("link_ids accepts at most %d ids", MaxBatchIDs)
	}
	for _, id := range r.GetLinkIds() {
		if id == 0 {
			return errors.New("link_ids must contain positive ids")
		}
	}
	return nil
}

func NewProgressRequestFromContext(ctx echo.Context) (*ProgressRequest, error) {
	return &ProgressRequest{Operation: strings.TrimSpace(ctx.Param("operation"))}, nil
}

func (r *ProgressRequest) Validate() error {
	if r.GetOperation() == "" {
		return errors.New("operation is required")
	}
	return nil
}

func NewStripeWebhookRequestFromContext(ctx echo.Context) (*StripeWebhookRequest, error) {
	payload, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}
	return &StripeWebhookRequest{
		Signature: strings.TrimSpace(ctx.Request().Header.Get("Stripe-Signature")),
		Payload:   payload,
	}, nil
}

func (r *StripeWebhookRequest) Validate() error {
	if r.GetSignature() == "" {
		return errors.New("stripe signature is required")
	}
	if len(r.GetPayload()) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

func parseIDParam(ctx echo.Context, name string) (uint64, error) {
	return strconv.ParseUint(ctx.Param(name), 10, 64)
}
