package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	stripeDefaultBaseURL   = "https://api.stripe.com"
	stripeSessionPageLimit = 100
)

type StripeConfig struct {
	SecretKey                 string
	WebhookSecret             string
	Currency                  string
	BaseURL                   string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

type StripeGateway struct {
	cfg    StripeConfig
	client *http.Client
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.SignatureToleranceSeconds <= 0 {
		cfg.SignatureToleranceSeconds = 300
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		cfg.Currency = "usd"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = stripeDefaultBaseURL
	}

	return &StripeGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// CreateLink creates a one-off price and a payment link for it, tagging the link with the client id.
func (p *StripeGateway) CreateLink(ctx context.Context, input LinkInput) (*CreatedLink, error) {
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, fmt.Errorf("stripe secret key: %w", ErrNotConfigured)
	}
	if input.AmountMinor <= 0 {
		return nil, errors.New("stripe unit amount must be > 0")
	}

	priceValues := url.Values{}
	priceValues.Set("currency", strings.ToLower(p.cfg.Currency))
	priceValues.Set("unit_amount", strconv.FormatInt(input.AmountMinor, 10))
	priceValues.Set("product_data[name]", input.ProductName)
	priceResp, err := p.postForm(ctx, "/v1/prices", priceValues)
	if err != nil {
		return nil, err
	}
	var price struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(priceResp, &price); err != nil {
		return nil, err
	}
	priceID := strings.TrimSpace(price.ID)
	if priceID == "" {
		return nil, errors.New("stripe price id missing")
	}

	linkValues := url.Values{}
	linkValues.Set("line_items[0][price]", priceID)
	linkValues.Set("line_items[0][quantity]", "1")
	linkValues.Set("metadata[client_id]", strconv.FormatUint(input.ClientID, 10))

	linkResp, err := p.postForm(ctx, "/v1/payment_links", linkValues)
	if err != nil {
		return nil, err
	}
	var link struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(linkResp, &link); err != nil {
		return nil, err
	}
	if strings.TrimSpace(link.ID) == "" || strings.TrimSpace(link.URL) == "" {
		return nil, errors.New("stripe payment link id or url missing")
	}

	return &CreatedLink{
		ID:  strings.TrimSpace(link.ID),
		URL: strings.TrimSpace(link.URL),
	}, nil
}

// ListSessions returns every checkout session opened against the payment link, following pagination.
func (p *StripeGateway) ListSessions(ctx context.Context, linkID string) ([]Session, error) {
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, fmt.Errorf("stripe secret key: %w", ErrNotConfigured)
	}

	sessions := make([]Session, 0)
	startingAfter := ""
	for {
		query := url.Values{}
		query.Set("payment_link", linkID)
		query.Set("limit", strconv.Itoa(stripeSessionPageLimit))
		if startingAfter != "" {
			query.Set("starting_after", startingAfter)
		}

		body, err := p.get(ctx, "/v1/checkout/sessions", query)
		if err != nil {
			return nil, err
		}

		var page struct {
			Data    []json.RawMessage `json:"data"`
			HasMore bool              `json:"has_more"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, err
		}

		for _, raw := range page.Data {
			session, err := parseCheckoutSession(raw)
			if err != nil {
				return nil, err
			}
			sessions = append(sessions, *session)
		}

		if !page.HasMore || len(page.Data) == 0 {
			return sessions, nil
		}
		startingAfter = sessions[len(sessions)-1].ID
	}
}

func (p *StripeGateway) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("stripe webhook secret: %w", ErrNotConfigured)
	}
	if !verifyStripeSignature(payload, signature, p.cfg.WebhookSecret, p.cfg.SignatureToleranceSeconds) {
		return nil, ErrInvalidSignature
	}

	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	result := &Event{
		ID:   strings.TrimSpace(event.ID),
		Type: strings.TrimSpace(event.Type),
		Kind: EventOther,
	}

	switch result.Type {
	case "checkout.session.completed":
		session, err := parseCheckoutSession(event.Data.Object)
		if err != nil {
			return nil, err
		}
		result.Kind = EventCheckoutSessionCompleted
		result.Session = session
	}

	return result, nil
}

func (p *StripeGateway) postForm(ctx context.Context, path string, values url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return p.do(req, path)
}

func (p *StripeGateway) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	return p.do(req, path)
}

func (p *StripeGateway) do(req *http.Request, path string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("stripe request failed: path=%s status=%d body=%s", path, resp.StatusCode, string(body))
	}

	return body, nil
}

func parseCheckoutSession(raw json.RawMessage) (*Session, error) {
	var object struct {
		ID            string            `json:"id"`
		Status        string            `json:"status"`
		PaymentStatus string            `json:"payment_status"`
		AmountTotal   int64             `json:"amount_total"`
		Created       int64             `json:"created"`
		PaymentLink   json.RawMessage   `json:"payment_link"`
		Metadata      map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, err
	}
	if strings.TrimSpace(object.ID) == "" {
		return nil, errors.New("stripe checkout session id missing")
	}

	session := &Session{
		ID:            strings.TrimSpace(object.ID),
		Status:        object.Status,
		PaymentStatus: object.PaymentStatus,
		AmountTotal:   object.AmountTotal,
		LinkID:        parseStringish(object.PaymentLink),
	}
	if object.Created > 0 {
		session.CreatedAt = time.Unix(object.Created, 0).UTC()
	}
	if rawClientID := strings.TrimSpace(object.Metadata["client_id"]); rawClientID != "" {
		if clientID, err := strconv.ParseUint(rawClientID, 10, 64); err == nil {
			session.ClientID = clientID
		}
	}

	return session, nil
}

func verifyStripeSignature(payload []byte, signatureHeader string, webhookSecret string, toleranceSeconds int64) bool {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" || strings.TrimSpace(webhookSecret) == "" {
		return false
	}

	parts := strings.Split(signatureHeader, ",")
	var ts string
	v1 := make([]string, 0, 1)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "t=") {
			ts = strings.TrimSpace(strings.TrimPrefix(part, "t="))
		}
		if strings.HasPrefix(part, "v1=") {
			v1 = append(v1, strings.TrimSpace(strings.TrimPrefix(part, "v1=")))
		}
	}
	if ts == "" || len(v1) == 0 {
		return false
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	now := time.Now().Unix()
	if now-tsUnix > toleranceSeconds || tsUnix-now > toleranceSeconds {
		return false
	}

	signedPayload := []byte(ts + "." + string(payload))
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = mac.Write(signedPayload)
	expected := mac.Sum(nil)

	for _, sig := range v1 {
		candidate, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return true
		}
	}

	return false
}

// parseStringish accepts either an id string or an expanded object carrying an id.
func parseStringish(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return strings.TrimSpace(s)
		}
		return ""
	}
	var obj struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}
