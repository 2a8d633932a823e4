package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
	"github.com/vibast-solutions/ms-go-collections/app/factory"
	"github.com/vibast-solutions/ms-go-collections/app/provider"
	"github.com/vibast-solutions/ms-go-collections/app/repository"
	"github.com/vibast-solutions/ms-go-collections/config"
	"golang.org/x/sync/singleflight"
)

const (
	FetchStatusSkipped = "skipped"
	FetchStatusPaid    = "paid"
	FetchStatusExpired = "expired"
	FetchStatusPending = "pending"
	FetchStatusError   = "error"
)

const (
	maxDescriptionLength = 255
	defaultListLimit     = 50
	maxListLimit         = 500
)

type clientRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.Client, error)
	FindByIDs(ctx context.Context, ids []uint64) ([]*entity.Client, error)
	ListEligibleForLinks(ctx context.Context, threshold decimal.Decimal, ids []uint64) ([]*entity.Client, error)
}

type paymentLinkRepository interface {
	Create(ctx context.Context, link *entity.PaymentLink) error
	FindByID(ctx context.Context, id uint64) (*entity.PaymentLink, error)
	FindByGatewayLinkID(ctx context.Context, gatewayLinkID string) (*entity.PaymentLink, error)
	FindLatestPendingForClient(ctx context.Context, clientID uint64) (*entity.PaymentLink, error)
	FindByIDs(ctx context.Context, ids []uint64) ([]*entity.PaymentLink, error)
	List(ctx context.Context, filter repository.PaymentLinkFilter) ([]*entity.PaymentLink, error)
	ListPendingWithGatewayID(ctx context.Context) ([]*entity.PaymentLink, error)
	ListSmsCandidateIDs(ctx context.Context, limit int) ([]uint64, error)
	CountSmsCandidates(ctx context.Context) (int64, error)
	CountPendingWithGatewayID(ctx context.Context) (int64, error)
	CountPending(ctx context.Context) (int64, error)
	SumPendingAmount(ctx context.Context) (decimal.Decimal, error)
	SumPaidBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
	ListRecentPaid(ctx context.Context, limit int) ([]*entity.PaymentLink, error)
	UpdateSmsStatus(ctx context.Context, id uint64, status string, sentAt time.Time) error
	MarkPaidByGatewayLinkID(ctx context.Context, gatewayLinkID string, paidAt time.Time) (bool, error)
	MarkExpired(ctx context.Context, id uint64, now time.Time) (bool, error)
	Delete(ctx context.Context, id uint64) error
}

type smsLogRepository interface {
	Create(ctx context.Context, log *entity.SmsLog) error
}

type webhookEventRepository interface {
	Create(ctx context.Context, event *entity.WebhookEvent) error
}

type listPaymentLinksRequest interface {
	GetClientId() uint64
	GetPaymentStatus() string
	GetSmsStatus() string
	GetSearch() string
	GetLimit() int32
	GetOffset() int32
}

type FetchResult struct {
	LinkID  uint64
	Status  string
	Message string
}

type DashboardStats struct {
	TotalOutstanding   decimal.Decimal
	TotalPaidThisMonth decimal.Decimal
	PendingCount       int64
	RecentPaid         []*entity.PaymentLink
}

type SmsBatchCandidates struct {
	LinkIDs     []uint64
	UnsentCount int64
}

type PaymentLinkService struct {
	clients       clientRepository
	links         paymentLinkRepository
	smsLogs       smsLogRepository
	webhookEvents webhookEventRepository
	gateway       provider.Gateway
	notifier      provider.Notifier
	reconciler    *ReconciliationEngine
	cfg           config.CollectionsConfig
	polls         singleflight.Group
	logger        logrus.FieldLogger
}

func NewPaymentLinkService(
	clients clientRepository,
	links paymentLinkRepository,
	smsLogs smsLogRepository,
	webhookEvents webhookEventRepository,
	gateway provider.Gateway,
	notifier provider.Notifier,
	reconciler *ReconciliationEngine,
	cfg config.CollectionsConfig,
) *PaymentLinkService {
	return &PaymentLinkService{
		clients:       clients,
		links:         links,
		smsLogs:       smsLogs,
		webhookEvents: webhookEvents,
		gateway:       gateway,
		notifier:      notifier,
		reconciler:    reconciler,
		cfg:           cfg,
		logger:        factory.NewModuleLogger("payment-link-service"),
	}
}

// Store creates a gateway payment link for the client and persists it as pending.
// Nothing is persisted when the gateway call fails.
func (s *PaymentLinkService) Store(ctx context.Context, client *entity.Client, amount decimal.Decimal, description *string) (*entity.PaymentLink, error) {
	if client == nil {
		return nil, ErrClientNotFound
	}
	if !amount.Equal(amount.Truncate(2)) {
		return nil, invalidRequest("amount must have at most 2 decimal places")
	}
	if amount.LessThan(s.cfg.MinimumLinkAmount) {
		return nil, ErrInvalidAmount
	}

	var desc *string
	if description != nil {
		trimmed := strings.TrimSpace(*description)
		if len(trimmed) > maxDescriptionLength {
			return nil, invalidRequest("description must be at most 255 characters")
		}
		if trimmed != "" {
			desc = &trimmed
		}
	}

	productName := "Balance for " + client.DisplayName()
	if desc != nil {
		productName = *desc
	}

	created, err := s.gateway.CreateLink(ctx, provider.LinkInput{
		ClientID:    client.ID,
		ProductName: productName,
		AmountMinor: toMinorUnits(amount),
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"client_id": client.ID,
			"amount":    amount.StringFixed(2),
		}).WithError(err).Error("Payment link creation failed")
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	now := time.Now().UTC()
	gatewayLinkID := created.ID
	link := &entity.PaymentLink{
		ClientID:      client.ID,
		GatewayLinkID: &gatewayLinkID,
		URL:           created.URL,
		Amount:        amount,
		Description:   desc,
		PaymentStatus: entity.PaymentStatusPending,
		SmsStatus:     entity.SmsStatusNotSent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.links.Create(ctx, link); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"client_id":       client.ID,
		"payment_link_id": link.ID,
		"gateway_link_id": gatewayLinkID,
	}).Info("Payment link created")

	return link, nil
}

func (s *PaymentLinkService) StoreForClientID(ctx context.Context, clientID uint64, amount decimal.Decimal, description *string) (*entity.PaymentLink, error) {
	client, err := s.clients.FindByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrClientNotFound
	}
	return s.Store(ctx, client, amount, description)
}

// SendSms texts the payment link to the client's preferred phone. Provider failures are
// recorded on the link and in the SMS log and reported through the result, not the error.
func (s *PaymentLinkService) SendSms(ctx context.Context, link *entity.PaymentLink) (provider.SmsResult, error) {
	client, err := s.clients.FindByID(ctx, link.ClientID)
	if err != nil {
		return provider.SmsResult{}, err
	}
	if client == nil {
		return provider.SmsResult{}, ErrClientNotFound
	}
	return s.deliverSms(ctx, link, client, selectPhone(client))
}

func (s *PaymentLinkService) SendSmsByID(ctx context.Context, linkID uint64) (*entity.PaymentLink, provider.SmsResult, error) {
	link, err := s.GetPaymentLink(ctx, linkID)
	if err != nil {
		return nil, provider.SmsResult{}, err
	}
	result, err := s.SendSms(ctx, link)
	return link, result, err
}

// SendToPhone texts the client's latest pending link to an explicit phone number,
// creating a link for the collectible balance when none is pending.
func (s *PaymentLinkService) SendToPhone(ctx context.Context, clientID uint64, phone string) (*entity.PaymentLink, provider.SmsResult, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, provider.SmsResult{}, invalidRequest("phone is required")
	}

	client, err := s.clients.FindByID(ctx, clientID)
	if err != nil {
		return nil, provider.SmsResult{}, err
	}
	if client == nil {
		return nil, provider.SmsResult{}, ErrClientNotFound
	}

	link, err := s.links.FindLatestPendingForClient(ctx, clientID)
	if err != nil {
		return nil, provider.SmsResult{}, err
	}
	if link == nil {
		amount := client.CollectibleAmount()
		if amount.LessThan(s.cfg.EligibilityThreshold) {
			return nil, provider.SmsResult{}, invalidRequest("client has no collectible balance")
		}
		link, err = s.Store(ctx, client, amount, nil)
		if err != nil {
			return nil, provider.SmsResult{}, err
		}
	}

	result, err := s.deliverSms(ctx, link, client, phone)
	return link, result, err
}

func (s *PaymentLinkService) deliverSms(ctx context.Context, link *entity.PaymentLink, client *entity.Client, rawPhone string) (provider.SmsResult, error) {
	to := normalizePhone(rawPhone)

	var result provider.SmsResult
	if to == "" {
		result = provider.SmsResult{Outcome: provider.SmsOutcomeFailed, Error: "client has no phone number"}
	} else {
		result = s.notifier.SendSms(ctx, to, s.smsBody(client, link))
	}

	status := entity.SmsStatusSent
	if !result.Sent() {
		status = entity.SmsStatusFailed
	}

	now := time.Now().UTC()
	if err := s.links.UpdateSmsStatus(ctx, link.ID, status, now); err != nil {
		if errors.Is(err, repository.ErrPaymentLinkNotFound) {
			return result, ErrPaymentLinkNotFound
		}
		return result, err
	}
	link.SmsStatus = status
	link.SmsSentAt = &now
	link.UpdatedAt = now

	smsLog := &entity.SmsLog{
		PaymentLinkID: link.ID,
		Phone:         to,
		Status:        status,
		SentAt:        now,
	}
	if result.ProviderMessageID != "" {
		id := result.ProviderMessageID
		smsLog.ProviderMessageID = &id
	}
	if result.Error != "" {
		msg := truncate(result.Error, 1024)
		smsLog.Error = &msg
	}
	_ = s.smsLogs.Create(ctx, smsLog)

	entry := s.logger.WithFields(logrus.Fields{
		"payment_link_id": link.ID,
		"client_id":       link.ClientID,
	})
	if result.Sent() {
		entry.Info("Payment link SMS sent")
	} else {
		entry.WithField("reason", result.Error).Warn("Payment link SMS failed")
	}

	return result, nil
}

func (s *PaymentLinkService) smsBody(client *entity.Client, link *entity.PaymentLink) string {
	var b strings.Builder
	if clinic := strings.TrimSpace(s.cfg.ClinicName); clinic != "" {
		b.WriteString(clinic)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "Hi %s, you have a $%s balance due. Pay here: %s.", client.Greeting(), link.Amount.StringFixed(2), link.URL)
	if support := strings.TrimSpace(s.cfg.SupportPhone); support != "" {
		fmt.Fprintf(&b, " Questions? Call %s.", support)
	}
	b.WriteString(" Thank you!")
	return b.String()
}

// FetchStatus asks the gateway for the link's checkout sessions and reconciles the first paid one.
// Concurrent polls of the same link share one gateway round trip.
func (s *PaymentLinkService) FetchStatus(ctx context.Context, link *entity.PaymentLink) FetchResult {
	value, _, _ := s.polls.Do(strconv.FormatUint(link.ID, 10), func() (interface{}, error) {
		return s.fetchStatus(ctx, link), nil
	})
	return value.(FetchResult)
}

func (s *PaymentLinkService) FetchStatusByID(ctx context.Context, linkID uint64) (FetchResult, error) {
	link, err := s.GetPaymentLink(ctx, linkID)
	if err != nil {
		return FetchResult{}, err
	}
	return s.FetchStatus(ctx, link), nil
}

func (s *PaymentLinkService) fetchStatus(ctx context.Context, link *entity.PaymentLink) FetchResult {
	result := FetchResult{LinkID: link.ID}

	current, err := s.links.FindByID(ctx, link.ID)
	if err != nil {
		result.Status = FetchStatusError
		result.Message = err.Error()
		return result
	}
	if current == nil {
		current = link
	}

	if current.GatewayLinkID == nil || strings.TrimSpace(*current.GatewayLinkID) == "" {
		result.Status = FetchStatusSkipped
		result.Message = "No gateway link attached."
		return result
	}
	switch current.PaymentStatus {
	case entity.PaymentStatusPaid:
		result.Status = FetchStatusPaid
		result.Message = "Already marked as paid."
		return result
	case entity.PaymentStatusExpired:
		result.Status = FetchStatusExpired
		result.Message = "Payment link has expired."
		return result
	}

	logger := s.logger.WithFields(logrus.Fields{
		"payment_link_id": current.ID,
		"gateway_link_id": *current.GatewayLinkID,
	})

	sessions, err := s.gateway.ListSessions(ctx, *current.GatewayLinkID)
	if err != nil {
		logger.WithError(err).Error("Checkout session lookup failed")
		result.Status = FetchStatusError
		result.Message = fmt.Sprintf("%v: %v", ErrGateway, err)
		return result
	}

	for _, session := range sessions {
		if !session.IsPaid() {
			continue
		}
		paidAt := session.CreatedAt
		if paidAt.IsZero() {
			paidAt = time.Now().UTC()
		}
		if _, err := s.reconciler.RecordPayment(ctx, SessionPayment{
			SessionID:     session.ID,
			GatewayLinkID: *current.GatewayLinkID,
			ClientID:      current.ClientID,
			AmountMinor:   session.AmountTotal,
			PaidAt:        paidAt,
		}); err != nil {
			logger.WithError(err).Error("Payment reconciliation failed")
			result.Status = FetchStatusError
			result.Message = err.Error()
			return result
		}
		result.Status = FetchStatusPaid
		result.Message = "Payment confirmed and marked as paid."
		return result
	}

	for _, session := range sessions {
		if !session.IsExpired() {
			continue
		}
		if _, err := s.links.MarkExpired(ctx, current.ID, time.Now().UTC()); err != nil {
			logger.WithError(err).Error("Marking payment link expired failed")
			result.Status = FetchStatusError
			result.Message = err.Error()
			return result
		}
		result.Status = FetchStatusExpired
		result.Message = "Payment link has expired."
		return result
	}

	result.Status = FetchStatusPending
	result.Message = "No completed payment found."
	return result
}

func (s *PaymentLinkService) GetPaymentLink(ctx context.Context, id uint64) (*entity.PaymentLink, error) {
	link, err := s.links.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrPaymentLinkNotFound
	}
	return link, nil
}

func (s *PaymentLinkService) ListPaymentLinks(ctx context.Context, req listPaymentLinksRequest) ([]*entity.PaymentLink, error) {
	limit := req.GetLimit()
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := req.GetOffset()
	if offset < 0 {
		offset = 0
	}

	return s.links.List(ctx, repository.PaymentLinkFilter{
		ClientID:      req.GetClientId(),
		PaymentStatus: strings.TrimSpace(req.GetPaymentStatus()),
		SmsStatus:     strings.TrimSpace(req.GetSmsStatus()),
		Search:        strings.TrimSpace(req.GetSearch()),
		Limit:         limit,
		Offset:        offset,
	})
}

// ListClientPaymentLinks returns every link of the client, newest first.
func (s *PaymentLinkService) ListClientPaymentLinks(ctx context.Context, clientID uint64) ([]*entity.PaymentLink, error) {
	client, err := s.clients.FindByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrClientNotFound
	}
	return s.links.List(ctx, repository.PaymentLinkFilter{ClientID: clientID, Limit: maxListLimit})
}

func (s *PaymentLinkService) Destroy(ctx context.Context, id uint64) error {
	if err := s.links.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrPaymentLinkNotFound) {
			return ErrPaymentLinkNotFound
		}
		return err
	}
	s.logger.WithField("payment_link_id", id).Info("Payment link deleted")
	return nil
}

func (s *PaymentLinkService) DashboardStats(ctx context.Context, now time.Time) (*DashboardStats, error) {
	now = now.UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	outstanding, err := s.links.SumPendingAmount(ctx)
	if err != nil {
		return nil, err
	}
	paidThisMonth, err := s.links.SumPaidBetween(ctx, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}
	pendingCount, err := s.links.CountPending(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := s.links.ListRecentPaid(ctx, s.recentPaidLimit())
	if err != nil {
		return nil, err
	}

	return &DashboardStats{
		TotalOutstanding:   outstanding,
		TotalPaidThisMonth: paidThisMonth,
		PendingCount:       pendingCount,
		RecentPaid:         recent,
	}, nil
}

// NextSmsBatch returns up to one batch worth of pending links that were never texted, oldest first.
func (s *PaymentLinkService) NextSmsBatch(ctx context.Context) (*SmsBatchCandidates, error) {
	ids, err := s.links.ListSmsCandidateIDs(ctx, s.batchLimit())
	if err != nil {
		return nil, err
	}
	unsent, err := s.links.CountSmsCandidates(ctx)
	if err != nil {
		return nil, err
	}
	return &SmsBatchCandidates{LinkIDs: ids, UnsentCount: unsent}, nil
}

func (s *PaymentLinkService) batchLimit() int {
	if s.cfg.BatchLimit <= 0 {
		return 160
	}
	return s.cfg.BatchLimit
}

func (s *PaymentLinkService) recentPaidLimit() int {
	if s.cfg.RecentPaidLimit <= 0 {
		return 5
	}
	return s.cfg.RecentPaidLimit
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
