package types

import "github.com/shopspring/decimal"

type CreatePaymentLinkRequest struct {
	ClientId    uint64          `json:"client_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

func (r *CreatePaymentLinkRequest) GetClientId() uint64 {
	if r == nil {
		return 0
	}
	return r.ClientId
}

func (r *CreatePaymentLinkRequest) GetAmount() decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return r.Amount
}

func (r *CreatePaymentLinkRequest) GetDescription() string {
	if r == nil {
		return ""
	}
	return r.Description
}

type PaymentLinkIDRequest struct {
	Id uint64 `json:"id"`
}

func (r *PaymentLinkIDRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

type ClientIDRequest struct {
	ClientId uint64 `json:"client_id"`
}

func (r *ClientIDRequest) GetClientId() uint64 {
	if r == nil {
		return 0
	}
	return r.ClientId
}

type ListPaymentLinksRequest struct {
	ClientId      uint64 `json:"client_id"`
	PaymentStatus string `json:"payment_status"`
	SmsStatus     string `json:"sms_status"`
	Search        string `json:"search"`
	Limit         int32  `json:"limit"`
	Offset        int32  `json:"offset"`
}

func (r *ListPaymentLinksRequest) GetClientId() uint64 {
	if r == nil {
		return 0
	}
	return r.ClientId
}

func (r *ListPaymentLinksRequest) GetPaymentStatus() string {
	if r == nil {
		return ""
	}
	return r.PaymentStatus
}

func (r *ListPaymentLinksRequest) GetSmsStatus() string {
	if r == nil {
		return ""
	}
	return r.SmsStatus
}

func (r *ListPaymentLinksRequest) GetSearch() string {
	if r == nil {
		return ""
	}
	return r.Search
}

func (r *ListPaymentLinksRequest) GetLimit() int32 {
	if r == nil {
		return 0
	}
	return r.Limit
}

func (r *ListPaymentLinksRequest) GetOffset() int32 {
	if r == nil {
		return 0
	}
	return r.Offset
}

type SendToPhoneRequest struct {
	ClientId uint64 `json:"client_id"`
	Phone    string `json:"phone"`
}

func (r *SendToPhoneRequest) GetClientId() uint64 {
	if r == nil {
		return 0
	}
	return r.ClientId
}

func (r *SendToPhoneRequest) GetPhone() string {
	if r == nil {
		return ""
	}
	return r.Phone
}

type GeneratePaymentLinksRequest struct {
	ClientIds []uint64 `json:"client_ids,omitempty"`
}

func (r *GeneratePaymentLinksRequest) GetClientIds() []uint64 {
	if r == nil {
		return nil
	}
	return r.ClientIds
}

type BatchSendSmsRequest struct {
	LinkIds []uint64 `json:"link_ids"`
}

func (r *BatchSendSmsRequest) GetLinkIds() []uint64 {
	if r == nil {
		return nil
	}
	return r.LinkIds
}

type ProgressRequest struct {
	Operation string `json:"operation"`
}

func (r *ProgressRequest) GetOperation() string {
	if r == nil {
		return ""
	}
	return r.Operation
}

type StripeWebhookRequest struct {
	Signature string
	Payload   []byte
}

func (r *StripeWebhookRequest) GetSignature() string {
	if r == nil {
		return ""
	}
	return r.Signature
}

func (r *StripeWebhookRequest) GetPayload() []byte {
	if r == nil {
		return nil
	}
	return r.Payload
}

type PaymentLink struct {
	Id            uint64 `json:"id"`
	ClientId      uint64 `json:"client_id"`
	GatewayLinkId string `json:"gateway_link_id,omitempty"`
	Url           string `json:"url"`
	Amount        string `json:"amount"`
	Description   string `json:"description,omitempty"`
	PaymentStatus string `json:"payment_status"`
	SmsStatus     string `json:"sms_status"`
	SmsSentAt     string `json:"sms_sent_at,omitempty"`
	PaidAt        string `json:"paid_at,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type PaymentLinkEnvelopeResponse struct {
	PaymentLink *PaymentLink `json:"payment_link"`
}

type ListPaymentLinksResponse struct {
	PaymentLinks []*PaymentLink `json:"payment_links"`
}

type SmsResponse struct {
	PaymentLink *PaymentLink `json:"payment_link"`
	Sent        bool         `json:"sent"`
	Error       string       `json:"error,omitempty"`
}

type FetchStatusResponse struct {
	PaymentLinkId uint64 `json:"payment_link_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

type BatchTriggerResponse struct {
	Queued  bool   `json:"queued"`
	JobId   string `json:"job_id,omitempty"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

type CancelBatchResponse struct {
	Removed int    `json:"removed"`
	Message string `json:"message"`
}

type ProgressResponse struct {
	Operation string `json:"operation"`
	Running   bool   `json:"running"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	StartedAt string `json:"started_at,omitempty"`
}

type DashboardResponse struct {
	TotalOutstanding   string         `json:"total_outstanding"`
	TotalPaidThisMonth string         `json:"total_paid_this_month"`
	PendingCount       int64          `json:"pending_count"`
	RecentPaid         []*PaymentLink `json:"recent_paid"`
}

type NextSmsBatchResponse struct {
	LinkIds     []uint64 `json:"link_ids"`
	Count       int      `json:"count"`
	UnsentCount int64    `json:"unsent_count"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
