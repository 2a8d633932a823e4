package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
	"github.com/vibast-solutions/ms-go-collections/app/jobqueue"
	"github.com/vibast-solutions/ms-go-collections/app/progress"
	"github.com/vibast-solutions/ms-go-collections/app/provider"
	"github.com/vibast-solutions/ms-go-collections/app/repository"
	"github.com/vibast-solutions/ms-go-collections/config"
)

type serviceClientRepo struct {
	clients map[uint64]*entity.Client
	links   *serviceLinkRepo
}

func newServiceClientRepo(links *serviceLinkRepo) *serviceClientRepo {
	return &serviceClientRepo{clients: map[uint64]*entity.Client{}, links: links}
}

func (r *serviceClientRepo) add(client *entity.Client) {
	copyItem := *client
	r.clients[client.ID] = &copyItem
}

func (r *serviceClientRepo) FindByID(_ context.Context, id uint64) (*entity.Client, error) {
	item, ok := r.clients[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *serviceClientRepo) FindByIDs(_ context.Context, ids []uint64) ([]*entity.Client, error) {
	items := make([]*entity.Client, 0, len(ids))
	for _, id := range ids {
		if item, ok := r.clients[id]; ok {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *serviceClientRepo) ListEligibleForLinks(_ context.Context, threshold decimal.Decimal, ids []uint64) ([]*entity.Client, error) {
	allowed := map[uint64]bool{}
	for _, id := range ids {
		allowed[id] = true
	}

	items := make([]*entity.Client, 0)
	for _, item := range r.clients {
		if len(ids) > 0 && !allowed[item.ID] {
			continue
		}
		if item.PatientBalance.LessThan(threshold) && item.OutstandingBalance.LessThan(threshold) {
			continue
		}
		if r.links != nil && r.links.hasPending(item.ID) {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *serviceClientRepo) update(client *entity.Client) error {
	if _, ok := r.clients[client.ID]; !ok {
		return repository.ErrClientNotFound
	}
	copyItem := *client
	r.clients[client.ID] = &copyItem
	return nil
}

type serviceLinkRepo struct {
	links   map[uint64]*entity.PaymentLink
	nextID  uint64
	clients *serviceClientRepo
}

func newServiceLinkRepo() *serviceLinkRepo {
	return &serviceLinkRepo{links: map[uint64]*entity.PaymentLink{}, nextID: 1}
}

func (r *serviceLinkRepo) hasPending(clientID uint64) bool {
	for _, item := range r.links {
		if item.ClientID == clientID && item.PaymentStatus == entity.PaymentStatusPending {
			return true
		}
	}
	return false
}

func (r *serviceLinkRepo) get(id uint64) *entity.PaymentLink {
	item, ok := r.links[id]
	if !ok {
		return nil
	}
	copyItem := *item
	return &copyItem
}

func (r *serviceLinkRepo) sorted(desc bool) []*entity.PaymentLink {
	items := make([]*entity.PaymentLink, 0, len(r.links))
	for _, item := range r.links {
		copyItem := *item
		items = append(items, &copyItem)
	}
	sort.Slice(items, func(i, j int) bool {
		if desc {
			return items[i].ID > items[j].ID
		}
		return items[i].ID < items[j].ID
	})
	return items
}

func (r *serviceLinkRepo) Create(_ context.Context, link *entity.PaymentLink) error {
	if link.GatewayLinkID != nil {
		for _, item := range r.links {
			if item.GatewayLinkID != nil && *item.GatewayLinkID == *link.GatewayLinkID {
				return repository.ErrPaymentLinkAlreadyExists
			}
		}
	}
	id := r.nextID
	r.nextID++
	copyItem := *link
	copyItem.ID = id
	r.links[id] = &copyItem
	link.ID = id
	return nil
}

func (r *serviceLinkRepo) FindByID(_ context.Context, id uint64) (*entity.PaymentLink, error) {
	return r.get(id), nil
}

func (r *serviceLinkRepo) FindByGatewayLinkID(_ context.Context, gatewayLinkID string) (*entity.PaymentLink, error) {
	for _, item := range r.links {
		if item.GatewayLinkID != nil && *item.GatewayLinkID == gatewayLinkID {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *serviceLinkRepo) FindLatestPendingForClient(_ context.Context, clientID uint64) (*entity.PaymentLink, error) {
	for _, item := range r.sorted(true) {
		if item.ClientID == clientID && item.PaymentStatus == entity.PaymentStatusPending {
			return item, nil
		}
	}
	return nil, nil
}

func (r *serviceLinkRepo) FindByIDs(_ context.Context, ids []uint64) ([]*entity.PaymentLink, error) {
	items := make([]*entity.PaymentLink, 0, len(ids))
	for _, id := range ids {
		if item := r.get(id); item != nil {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *serviceLinkRepo) List(_ context.Context, filter repository.PaymentLinkFilter) ([]*entity.PaymentLink, error) {
	items := make([]*entity.PaymentLink, 0)
	for _, item := range r.sorted(true) {
		if filter.ClientID > 0 && item.ClientID != filter.ClientID {
			continue
		}
		if filter.PaymentStatus != "" && item.PaymentStatus != filter.PaymentStatus {
			continue
		}
		if filter.SmsStatus != "" && item.SmsStatus != filter.SmsStatus {
			continue
		}
		if filter.Search != "" && !r.clientMatches(item.ClientID, filter.Search) {
			continue
		}
		items = append(items, item)
	}

	start := int(filter.Offset)
	if start > len(items) {
		return []*entity.PaymentLink{}, nil
	}
	end := start + int(filter.Limit)
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], nil
}

func (r *serviceLinkRepo) clientMatches(clientID uint64, search string) bool {
	if r.clients == nil {
		return false
	}
	client, ok := r.clients.clients[clientID]
	if !ok {
		return false
	}
	search = strings.ToLower(search)
	for _, name := range []string{client.Name, client.FirstName, client.LastName, client.FirstName + " " + client.LastName} {
		if strings.Contains(strings.ToLower(name), search) {
			return true
		}
	}
	return false
}

func (r *serviceLinkRepo) ListPendingWithGatewayID(_ context.Context) ([]*entity.PaymentLink, error) {
	items := make([]*entity.PaymentLink, 0)
	for _, item := range r.sorted(false) {
		if item.PaymentStatus == entity.PaymentStatusPending && item.GatewayLinkID != nil {
			items = append(items, item)
		}
	}
	return items, nil
}

func (r *serviceLinkRepo) ListSmsCandidateIDs(_ context.Context, limit int) ([]uint64, error) {
	ids := make([]uint64, 0)
	for _, item := range r.sorted(false) {
		if len(ids) >= limit {
			break
		}
		if item.SmsEligible() {
			ids = append(ids, item.ID)
		}
	}
	return ids, nil
}

func (r *serviceLinkRepo) CountSmsCandidates(_ context.Context) (int64, error) {
	var count int64
	for _, item := range r.links {
		if item.SmsEligible() {
			count++
		}
	}
	return count, nil
}

func (r *serviceLinkRepo) CountPendingWithGatewayID(ctx context.Context) (int64, error) {
	items, _ := r.ListPendingWithGatewayID(ctx)
	return int64(len(items)), nil
}

func (r *serviceLinkRepo) CountPending(_ context.Context) (int64, error) {
	var count int64
	for _, item := range r.links {
		if item.PaymentStatus == entity.PaymentStatusPending {
			count++
		}
	}
	return count, nil
}

func (r *serviceLinkRepo) SumPendingAmount(_ context.Context) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, item := range r.links {
		if item.PaymentStatus == entity.PaymentStatusPending {
			sum = sum.Add(item.Amount)
		}
	}
	return sum, nil
}

func (r *serviceLinkRepo) SumPaidBetween(_ context.Context, from, to time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, item := range r.links {
		if item.PaymentStatus != entity.PaymentStatusPaid || item.PaidAt == nil {
			continue
		}
		if item.PaidAt.Before(from) || !item.PaidAt.Before(to) {
			continue
		}
		sum = sum.Add(item.Amount)
	}
	return sum, nil
}

func (r *serviceLinkRepo) ListRecentPaid(_ context.Context, limit int) ([]*entity.PaymentLink, error) {
	items := make([]*entity.PaymentLink, 0)
	for _, item := range r.sorted(false) {
		if item.PaymentStatus == entity.PaymentStatusPaid && item.PaidAt != nil {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].PaidAt.After(*items[j].PaidAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *serviceLinkRepo) UpdateSmsStatus(_ context.Context, id uint64, status string, sentAt time.Time) error {
	item, ok := r.links[id]
	if !ok {
		return repository.ErrPaymentLinkNotFound
	}
	item.SmsStatus = status
	item.SmsSentAt = &sentAt
	item.UpdatedAt = sentAt
	return nil
}

func (r *serviceLinkRepo) MarkPaidByGatewayLinkID(_ context.Context, gatewayLinkID string, paidAt time.Time) (bool, error) {
	for _, item := range r.links {
		if item.GatewayLinkID == nil || *item.GatewayLinkID != gatewayLinkID {
			continue
		}
		if item.PaymentStatus != entity.PaymentStatusPending {
			return false, nil
		}
		item.PaymentStatus = entity.PaymentStatusPaid
		item.PaidAt = &paidAt
		item.UpdatedAt = paidAt
		return true, nil
	}
	return false, nil
}

func (r *serviceLinkRepo) MarkExpired(_ context.Context, id uint64, now time.Time) (bool, error) {
	item, ok := r.links[id]
	if !ok || item.PaymentStatus != entity.PaymentStatusPending {
		return false, nil
	}
	item.PaymentStatus = entity.PaymentStatusExpired
	item.UpdatedAt = now
	return true, nil
}

func (r *serviceLinkRepo) Delete(_ context.Context, id uint64) error {
	if _, ok := r.links[id]; !ok {
		return repository.ErrPaymentLinkNotFound
	}
	delete(r.links, id)
	return nil
}

type serviceRecordRepo struct {
	records []*entity.PaymentRecord
	// staleReads makes ExistsBySessionID miss rows, like a read racing another commit.
	staleReads bool
}

func (r *serviceRecordRepo) ExistsBySessionID(_ context.Context, sessionID string) (bool, error) {
	if r.staleReads {
		return false, nil
	}
	for _, item := range r.records {
		if item.GatewaySessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (r *serviceRecordRepo) create(record *entity.PaymentRecord) error {
	for _, item := range r.records {
		if item.GatewaySessionID == record.GatewaySessionID {
			return repository.ErrPaymentRecordAlreadyExists
		}
	}
	copyItem := *record
	copyItem.ID = uint64(len(r.records) + 1)
	r.records = append(r.records, &copyItem)
	record.ID = copyItem.ID
	return nil
}

// serviceLedger restores every repo on rollback.
type serviceLedger struct {
	clients *serviceClientRepo
	links   *serviceLinkRepo
	records *serviceRecordRepo
}

func (l *serviceLedger) WithinTx(_ context.Context, fn func(tx repository.LedgerTx) error) error {
	clients := map[uint64]*entity.Client{}
	for id, item := range l.clients.clients {
		copyItem := *item
		clients[id] = &copyItem
	}
	links := map[uint64]*entity.PaymentLink{}
	for id, item := range l.links.links {
		copyItem := *item
		links[id] = &copyItem
	}
	records := append([]*entity.PaymentRecord(nil), l.records.records...)

	if err := fn(&serviceLedgerTx{ledger: l}); err != nil {
		l.clients.clients = clients
		l.links.links = links
		l.records.records = records
		return err
	}
	return nil
}

type serviceLedgerTx struct {
	ledger *serviceLedger
}

func (t *serviceLedgerTx) MarkLinkPaid(ctx context.Context, gatewayLinkID string, paidAt time.Time) (bool, error) {
	return t.ledger.links.MarkPaidByGatewayLinkID(ctx, gatewayLinkID, paidAt)
}

func (t *serviceLedgerTx) CreatePaymentRecord(_ context.Context, record *entity.PaymentRecord) error {
	return t.ledger.records.create(record)
}

func (t *serviceLedgerTx) FindClientForUpdate(ctx context.Context, id uint64) (*entity.Client, error) {
	return t.ledger.clients.FindByID(ctx, id)
}

func (t *serviceLedgerTx) UpdateClientBalances(_ context.Context, client *entity.Client) error {
	return t.ledger.clients.update(client)
}

type serviceSmsLogRepo struct {
	logs []*entity.SmsLog
}

func (r *serviceSmsLogRepo) Create(_ context.Context, log *entity.SmsLog) error {
	copyItem := *log
	r.logs = append(r.logs, &copyItem)
	return nil
}

type serviceWebhookEventRepo struct {
	events []*entity.WebhookEvent
}

func (r *serviceWebhookEventRepo) Create(_ context.Context, event *entity.WebhookEvent) error {
	copyItem := *event
	r.events = append(r.events, &copyItem)
	return nil
}

type fakeGateway struct {
	mu        sync.Mutex
	created   []provider.LinkInput
	createErr error
	sessions  map[string][]provider.Session
	listErr   error
	listCalls int
	event     *provider.Event
	verifyErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string][]provider.Session{}}
}

func (g *fakeGateway) CreateLink(_ context.Context, input provider.LinkInput) (*provider.CreatedLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, input)
	id := "plink_" + strconv.Itoa(len(g.created))
	return &provider.CreatedLink{ID: id, URL: "https://pay.test/" + id}, nil
}

func (g *fakeGateway) VerifyWebhook(_ []byte, _ string) (*provider.Event, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.event, nil
}

func (g *fakeGateway) ListSessions(_ context.Context, linkID string) ([]provider.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.sessions[linkID], nil
}

type sentSms struct {
	to   string
	body string
}

type fakeNotifier struct {
	sent   []sentSms
	result provider.SmsResult
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{result: provider.SmsResult{Outcome: provider.SmsOutcomeSent, ProviderMessageID: "SM123"}}
}

func (n *fakeNotifier) SendSms(_ context.Context, to, body string) provider.SmsResult {
	n.sent = append(n.sent, sentSms{to: to, body: body})
	return n.result
}

type enqueuedJob struct {
	job     *jobqueue.Job
	payload interface{}
}

type fakeDispatcher struct {
	jobs       []enqueuedJob
	enqueueErr error
}

func (d *fakeDispatcher) Enqueue(_ context.Context, jobType jobqueue.JobType, id string, payload interface{}) (*jobqueue.Job, error) {
	if d.enqueueErr != nil {
		return nil, d.enqueueErr
	}
	job := &jobqueue.Job{ID: id, Type: jobType, Status: jobqueue.JobStatusPending}
	d.jobs = append(d.jobs, enqueuedJob{job: job, payload: payload})
	return job, nil
}

func (d *fakeDispatcher) CancelPending(_ context.Context, jobType jobqueue.JobType) (int, error) {
	kept := d.jobs[:0]
	removed := 0
	for _, item := range d.jobs {
		if item.job.Type == jobType {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	d.jobs = kept
	return removed, nil
}

type fakeRegistrar struct {
	handlers map[jobqueue.JobType]jobqueue.HandlerConfig
}

func (r *fakeRegistrar) Register(jobType jobqueue.JobType, cfg jobqueue.HandlerConfig) {
	if r.handlers == nil {
		r.handlers = map[jobqueue.JobType]jobqueue.HandlerConfig{}
	}
	r.handlers[jobType] = cfg
}

type serviceFixture struct {
	clients    *serviceClientRepo
	links      *serviceLinkRepo
	records    *serviceRecordRepo
	smsLogs    *serviceSmsLogRepo
	events     *serviceWebhookEventRepo
	gateway    *fakeGateway
	notifier   *fakeNotifier
	dispatcher *fakeDispatcher
	progress   *progress.MemoryStore
	cfg        config.CollectionsConfig
	jobsCfg    config.JobsConfig
	svc        *PaymentLinkService
	jobs       *JobOrchestrator
}

func newServiceFixture() *serviceFixture {
	links := newServiceLinkRepo()
	clients := newServiceClientRepo(links)
	links.clients = clients
	records := &serviceRecordRepo{}
	f := &serviceFixture{
		clients:    clients,
		links:      links,
		records:    records,
		smsLogs:    &serviceSmsLogRepo{},
		events:     &serviceWebhookEventRepo{},
		gateway:    newFakeGateway(),
		notifier:   newFakeNotifier(),
		dispatcher: &fakeDispatcher{},
		progress:   progress.NewMemoryStore(time.Hour),
		cfg: config.CollectionsConfig{
			MinimumLinkAmount:    decimal.RequireFromString("0.01"),
			EligibilityThreshold: decimal.RequireFromString("0.50"),
			ClinicName:           "Sunrise Dental",
			SupportPhone:         "555-0100",
			BatchLimit:           160,
			ProgressTTL:          time.Hour,
			ProgressFlushEvery:   5,
			RecentPaidLimit:      5,
		},
		jobsCfg: config.JobsConfig{
			GenerateMaxRetries: 2,
			GenerateTimeout:    time.Hour,
			BatchSmsTimeout:    10 * time.Minute,
			FetchStatusTimeout: 10 * time.Minute,
		},
	}

	reconciler := NewReconciliationEngine(&serviceLedger{clients: clients, links: links, records: records}, records, links)
	f.svc = NewPaymentLinkService(clients, links, f.smsLogs, f.events, f.gateway, f.notifier, reconciler, f.cfg)
	f.jobs = NewJobOrchestrator(f.svc, clients, links, f.dispatcher, f.progress, f.progress, f.cfg, f.jobsCfg)
	f.jobs.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func (f *serviceFixture) addClient(id uint64, patient, outstanding string) *entity.Client {
	client := &entity.Client{
		ID:                 id,
		FirstName:          "Pat" + strconv.FormatUint(id, 10),
		LastName:           "Doe",
		MobilePhone:        "(555) 123-45" + strconv.FormatUint(10+id%90, 10),
		PatientBalance:     decimal.RequireFromString(patient),
		OutstandingBalance: decimal.RequireFromString(outstanding),
		AccountStatus:      entity.AccountStatusActive,
	}
	f.clients.add(client)
	return client
}

func (f *serviceFixture) addLink(clientID uint64, amount, paymentStatus, smsStatus string) *entity.PaymentLink {
	gatewayID := "plink_seed_" + strconv.FormatUint(f.links.nextID, 10)
	link := &entity.PaymentLink{
		ClientID:      clientID,
		GatewayLinkID: &gatewayID,
		URL:           "https://pay.test/" + gatewayID,
		Amount:        decimal.RequireFromString(amount),
		PaymentStatus: paymentStatus,
		SmsStatus:     smsStatus,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	_ = f.links.Create(context.Background(), link)
	return link
}
