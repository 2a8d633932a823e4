package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioDefaultBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	FromNumber  string
	OverrideTo  string
	BaseURL     string
	HTTPTimeout time.Duration
}

type TwilioNotifier struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioNotifier(cfg TwilioConfig) *TwilioNotifier {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioDefaultBaseURL
	}

	return &TwilioNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// SendSms delivers body to the recipient, or to OverrideTo when one is configured.
func (n *TwilioNotifier) SendSms(ctx context.Context, to, body string) SmsResult {
	recipient := strings.TrimSpace(n.cfg.OverrideTo)
	if recipient == "" {
		recipient = strings.TrimSpace(to)
	}
	if recipient == "" {
		return SmsResult{Outcome: SmsOutcomeFailed, Error: "recipient phone is empty"}
	}
	if strings.TrimSpace(n.cfg.AccountSID) == "" || strings.TrimSpace(n.cfg.AuthToken) == "" {
		return SmsResult{Outcome: SmsOutcomeFailed, Error: fmt.Sprintf("twilio credentials: %v", ErrNotConfigured)}
	}

	values := url.Values{}
	values.Set("To", recipient)
	values.Set("From", n.cfg.FromNumber)
	values.Set("Body", body)

	endpoint := n.cfg.BaseURL + "/2010-04-01/Accounts/" + url.PathEscape(n.cfg.AccountSID) + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return SmsResult{Outcome: SmsOutcomeFailed, Error: err.Error()}
	}
	req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return SmsResult{Outcome: SmsOutcomeFailed, Error: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return SmsResult{Outcome: SmsOutcomeFailed, Error: err.Error()}
	}

	var payload struct {
		SID     string `json:"sid"`
		Status  string `json:"status"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	_ = json.Unmarshal(respBody, &payload)

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(payload.Message)
		if msg == "" {
			msg = string(respBody)
		}
		return SmsResult{
			Outcome: SmsOutcomeFailed,
			Error:   fmt.Sprintf("twilio request failed: status=%d code=%d message=%s", resp.StatusCode, payload.Code, msg),
		}
	}
	if payload.Status == "failed" || payload.Status == "undelivered" {
		return SmsResult{Outcome: SmsOutcomeFailed, ProviderMessageID: payload.SID, Error: "twilio message " + payload.Status}
	}

	return SmsResult{Outcome: SmsOutcomeSent, ProviderMessageID: payload.SID}
}
