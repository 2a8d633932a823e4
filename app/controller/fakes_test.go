package controller

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
	"github.com/vibast-solutions/ms-go-collections/app/jobqueue"
	"github.com/vibast-solutions/ms-go-collections/app/progress"
	"github.com/vibast-solutions/ms-go-collections/app/provider"
	"github.com/vibast-solutions/ms-go-collections/app/repository"
	"github.com/vibast-solutions/ms-go-collections/app/service"
	"github.com/vibast-solutions/ms-go-collections/config"
)

type controllerClientRepo struct {
	findByIDFn     func(ctx context.Context, id uint64) (*entity.Client, error)
	findByIDsFn    func(ctx context.Context, ids []uint64) ([]*entity.Client, error)
	listEligibleFn func(ctx context.Context, threshold decimal.Decimal, ids []uint64) ([]*entity.Client, error)
}

func (r *controllerClientRepo) FindByID(ctx context.Context, id uint64) (*entity.Client, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *controllerClientRepo) FindByIDs(ctx context.Context, ids []uint64) ([]*entity.Client, error) {
	if r.findByIDsFn != nil {
		return r.findByIDsFn(ctx, ids)
	}
	return []*entity.Client{}, nil
}

func (r *controllerClientRepo) ListEligibleForLinks(ctx context.Context, threshold decimal.Decimal, ids []uint64) ([]*entity.Client, error) {
	if r.listEligibleFn != nil {
		return r.listEligibleFn(ctx, threshold, ids)
	}
	return []*entity.Client{}, nil
}

type controllerLinkRepo struct {
	createFn       func(ctx context.Context, link *entity.PaymentLink) error
	findByIDFn     func(ctx context.Context, id uint64) (*entity.PaymentLink, error)
	findByIDsFn    func(ctx context.Context, ids []uint64) ([]*entity.PaymentLink, error)
	listFn         func(ctx context.Context, filter repository.PaymentLinkFilter) ([]*entity.PaymentLink, error)
	deleteFn       func(ctx context.Context, id uint64) error
	sumPendingFn   func(ctx context.Context) (decimal.Decimal, error)
	countPendingFn func(ctx context.Context) (int64, error)
}

func (r *controllerLinkRepo) Create(ctx context.Context, link *entity.PaymentLink) error {
	if r.createFn != nil {
		return r.createFn(ctx, link)
	}
	return nil
}

func (r *controllerLinkRepo) FindByID(ctx context.Context, id uint64) (*entity.PaymentLink, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *controllerLinkRepo) FindByGatewayLinkID(context.Context, string) (*entity.PaymentLink, error) {
	return nil, nil
}

func (r *controllerLinkRepo) FindLatestPendingForClient(context.Context, uint64) (*entity.PaymentLink, error) {
	return nil, nil
}

func (r *controllerLinkRepo) FindByIDs(ctx context.Context, ids []uint64) ([]*entity.PaymentLink, error) {
	if r.findByIDsFn != nil {
		return r.findByIDsFn(ctx, ids)
	}
	return []*entity.PaymentLink{}, nil
}

func (r *controllerLinkRepo) List(ctx context.Context, filter repository.PaymentLinkFilter) ([]*entity.PaymentLink, error) {
	if r.listFn != nil {
		return r.listFn(ctx, filter)
	}
	return []*entity.PaymentLink{}, nil
}

func (r *controllerLinkRepo) ListPendingWithGatewayID(context.Context) ([]*entity.PaymentLink, error) {
	return []*entity.PaymentLink{}, nil
}

func (r *controllerLinkRepo) ListSmsCandidateIDs(context.Context, int) ([]uint64, error) {
	return []uint64{}, nil
}

func (r *controllerLinkRepo) CountSmsCandidates(context.Context) (int64, error) {
	return 0, nil
}

func (r *controllerLinkRepo) CountPendingWithGatewayID(context.Context) (int64, error) {
	return 0, nil
}

func (r *controllerLinkRepo) CountPending(ctx context.Context) (int64, error) {
	if r.countPendingFn != nil {
		return r.countPendingFn(ctx)
	}
	return 0, nil
}

func (r *controllerLinkRepo) SumPendingAmount(ctx context.Context) (decimal.Decimal, error) {
	if r.sumPendingFn != nil {
		return r.sumPendingFn(ctx)
	}
	return decimal.Zero, nil
}

func (r *controllerLinkRepo) SumPaidBetween(context.Context, time.Time, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (r *controllerLinkRepo) ListRecentPaid(context.Context, int) ([]*entity.PaymentLink, error) {
	return []*entity.PaymentLink{}, nil
}

func (r *controllerLinkRepo) UpdateSmsStatus(context.Context, uint64, string, time.Time) error {
	return nil
}

func (r *controllerLinkRepo) MarkPaidByGatewayLinkID(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func (r *controllerLinkRepo) MarkExpired(context.Context, uint64, time.Time) (bool, error) {
	return false, nil
}

func (r *controllerLinkRepo) Delete(ctx context.Context, id uint64) error {
	if r.deleteFn != nil {
		return r.deleteFn(ctx, id)
	}
	return nil
}

type controllerSmsLogRepo struct{}

func (r *controllerSmsLogRepo) Create(context.Context, *entity.SmsLog) error {
	return nil
}

type controllerWebhookEventRepo struct{}

func (r *controllerWebhookEventRepo) Create(context.Context, *entity.WebhookEvent) error {
	return nil
}

type controllerRecordRepo struct{}

func (r *controllerRecordRepo) ExistsBySessionID(context.Context, string) (bool, error) {
	return false, nil
}

type controllerLedger struct{}

func (l *controllerLedger) WithinTx(context.Context, func(tx repository.LedgerTx) error) error {
	return nil
}

type controllerGateway struct {
	createOutput *provider.CreatedLink
	createErr    error
	event        *provider.Event
	verifyErr    error
}

func (g *controllerGateway) CreateLink(context.Context, provider.LinkInput) (*provider.CreatedLink, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	if g.createOutput != nil {
		return g.createOutput, nil
	}
	return &provider.CreatedLink{ID: "plink_1", URL: "https://pay.test/plink_1"}, nil
}

func (g *controllerGateway) VerifyWebhook([]byte, string) (*provider.Event, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	if g.event != nil {
		return g.event, nil
	}
	return &provider.Event{ID: "evt_1", Type: "customer.created", Kind: provider.EventOther}, nil
}

func (g *controllerGateway) ListSessions(context.Context, string) ([]provider.Session, error) {
	return nil, nil
}

type controllerNotifier struct{}

func (n *controllerNotifier) SendSms(context.Context, string, string) provider.SmsResult {
	return provider.SmsResult{Outcome: provider.SmsOutcomeSent, ProviderMessageID: "SM1"}
}

type controllerDispatcher struct {
	enqueued int
}

func (d *controllerDispatcher) Enqueue(_ context.Context, jobType jobqueue.JobType, id string, _ interface{}) (*jobqueue.Job, error) {
	d.enqueued++
	return &jobqueue.Job{ID: id, Type: jobType, Status: jobqueue.JobStatusPending}, nil
}

func (d *controllerDispatcher) CancelPending(context.Context, jobqueue.JobType) (int, error) {
	removed := d.enqueued
	d.enqueued = 0
	return removed, nil
}

func testCollectionsConfig() config.CollectionsConfig {
	return config.CollectionsConfig{
		MinimumLinkAmount:    decimal.RequireFromString("0.01"),
		EligibilityThreshold: decimal.RequireFromString("0.50"),
		ClinicName:           "Sunrise Dental",
		BatchLimit:           160,
		ProgressFlushEvery:   5,
		RecentPaidLimit:      5,
	}
}

func newTestLinkService(clients *controllerClientRepo, links *controllerLinkRepo, gateway *controllerGateway) *service.PaymentLinkService {
	reconciler := service.NewReconciliationEngine(&controllerLedger{}, &controllerRecordRepo{}, links)
	return service.NewPaymentLinkService(
		clients,
		links,
		&controllerSmsLogRepo{},
		&controllerWebhookEventRepo{},
		gateway,
		&controllerNotifier{},
		reconciler,
		testCollectionsConfig(),
	)
}

func newTestJobOrchestrator(clients *controllerClientRepo, links *controllerLinkRepo, dispatcher *controllerDispatcher) *service.JobOrchestrator {
	store := progress.NewMemoryStore(time.Hour)
	linkService := newTestLinkService(clients, links, &controllerGateway{})
	return service.NewJobOrchestrator(
		linkService,
		clients,
		links,
		dispatcher,
		store,
		store,
		testCollectionsConfig(),
		config.JobsConfig{GenerateMaxRetries: 2, GenerateTimeout: time.Hour},
	)
}
