package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/provider"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/ratelimit"
	"github.com/unclebandit/campaign-engine/internal/service"
)

// memDB backs every fake repository so services see one consistent store.
type memDB struct {
	mu         sync.Mutex
	now        func() time.Time
	workspaces map[string]*model.Workspace
	senders    map[string]*model.Sender
	contacts   map[string]*model.Contact
	threads    map[string]string
	threadRows int
	messages   map[string]*model.Message
	audit      map[string]*model.ProviderMessage
	held       map[string]*model.HeldReceipt
	campaigns  map[string]*model.Campaign
	lists      map[string][]string
	listOwner  map[string]string
	stats      map[string]*model.CampaignStats
	batchLog   []model.BatchLogEntry
	billing    map[string]*model.BillingRecord

	createOutboundErr error
	onCampaignRead    func(id string)
	seq               int64
}

func newMemDB() *memDB {
	return &memDB{
		now:        time.Now,
		workspaces: map[string]*model.Workspace{},
		senders:    map[string]*model.Sender{},
		contacts:   map[string]*model.Contact{},
		threads:    map[string]string{},
		messages:   map[string]*model.Message{},
		audit:      map[string]*model.ProviderMessage{},
		held:       map[string]*model.HeldReceipt{},
		campaigns:  map[string]*model.Campaign{},
		lists:      map[string][]string{},
		listOwner:  map[string]string{},
		stats:      map[string]*model.CampaignStats{},
		billing:    map[string]*model.BillingRecord{},
	}
}

// tick keeps created_at strictly increasing so ordering is deterministic.
func (db *memDB) tick() time.Time {
	db.seq++
	return db.now().Add(time.Duration(db.seq) * time.Microsecond)
}

func (db *memDB) addWorkspace(id, webhookID string) {
	db.workspaces[id] = &model.Workspace{ID: id, Name: id, WebhookID: webhookID}
	db.senders[id] = &model.Sender{
		ID: "snd_" + id, WorkspaceID: id, Provider: "fake", PhoneNumber: "+15550009999", APIKey: "k", Active: true,
	}
}

func (db *memDB) addContact(workspaceID, id, first, phone string) {
	c := &model.Contact{ID: id, WorkspaceID: workspaceID, FirstName: first}
	if phone != "" {
		c.Phones = []model.ContactPhone{{Number: phone, Type: "mobile", IsPrimary: true}}
	}
	db.contacts[id] = c
}

// addList creates n contacts with valid numbers and puts them on a list.
func (db *memDB) addList(workspaceID, listID string, n int) {
	db.listOwner[listID] = workspaceID
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("ctc_%s_%03d", listID, i)
		db.addContact(workspaceID, id, fmt.Sprintf("Owner%d", i), fmt.Sprintf("+1555%07d", i+1))
		db.lists[listID] = append(db.lists[listID], id)
	}
}

func (db *memDB) messageCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.messages)
}

func (db *memDB) message(id string) model.Message {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.messages[id]
}

// ---------- workspaces ----------

type fakeWorkspaces struct{ db *memDB }

func (f fakeWorkspaces) GetByWebhookID(_ context.Context, webhookID string) (*model.Workspace, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, w := range f.db.workspaces {
		if w.WebhookID == webhookID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (f fakeWorkspaces) GetActiveSender(_ context.Context, workspaceID string) (*model.Sender, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s, ok := f.db.senders[workspaceID]
	if !ok || !s.Active {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// ---------- contacts ----------

type fakeContacts struct{ db *memDB }

func (f fakeContacts) GetByID(_ context.Context, workspaceID, id string) (*model.Contact, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.contacts[id]
	if !ok || c.WorkspaceID != workspaceID {
		return nil, nil
	}
	cp := *c
	cp.Phones = append([]model.ContactPhone(nil), c.Phones...)
	return &cp, nil
}

func (f fakeContacts) FindByPhone(ctx context.Context, workspaceID, number string) (*model.Contact, error) {
	f.db.mu.Lock()
	var found string
	for id, c := range f.db.contacts {
		if c.WorkspaceID != workspaceID {
			continue
		}
		for _, p := range c.Phones {
			if p.Number == number {
				found = id
			}
		}
	}
	f.db.mu.Unlock()
	if found == "" {
		return nil, nil
	}
	return f.GetByID(ctx, workspaceID, found)
}

func (f fakeContacts) GetOrCreateByPhone(ctx context.Context, workspaceID, number string) (*model.Contact, error) {
	if c, _ := f.FindByPhone(ctx, workspaceID, number); c != nil {
		return c, nil
	}
	f.db.mu.Lock()
	id := fmt.Sprintf("ctc_auto_%d", len(f.db.contacts)+1)
	f.db.addContact(workspaceID, id, "", number)
	f.db.mu.Unlock()
	return f.GetByID(ctx, workspaceID, id)
}

func (f fakeContacts) SetPrimaryPhone(_ context.Context, contactID, number string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.contacts[contactID]
	if !ok {
		return fmt.Errorf("no contact %s", contactID)
	}
	found := false
	for i := range c.Phones {
		c.Phones[i].IsPrimary = c.Phones[i].Number == number
		found = found || c.Phones[i].IsPrimary
	}
	if !found {
		return fmt.Errorf("contact %s has no phone %s", contactID, number)
	}
	return nil
}

// ---------- threads ----------

type fakeThreads struct {
	db    *memDB
	calls int32
	delay time.Duration
}

func (f *fakeThreads) GetOrCreate(_ context.Context, workspaceID, contactID string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	time.Sleep(f.delay)
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	key := workspaceID + "|" + contactID
	if id, ok := f.db.threads[key]; ok {
		return id, nil
	}
	f.db.threadRows++
	id := fmt.Sprintf("thr_%d", f.db.threadRows)
	f.db.threads[key] = id
	return id, nil
}

func (f *fakeThreads) FindByContact(_ context.Context, workspaceID, contactID string) (string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.threads[workspaceID+"|"+contactID], nil
}

// ---------- messages ----------

type fakeMessages struct{ db *memDB }

func (f fakeMessages) CreateOutbound(_ context.Context, m *model.Message) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.createOutboundErr != nil {
		return f.db.createOutboundErr
	}
	if m.CampaignID != nil {
		for _, existing := range f.db.messages {
			if existing.CampaignID != nil && *existing.CampaignID == *m.CampaignID && existing.ContactID == m.ContactID {
				return appErrors.ErrAlreadyDispatched
			}
		}
	}
	m.Direction = model.DirectionOutbound
	m.Status = model.StatusQueued
	m.CreatedAt = f.db.tick()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	f.db.messages[m.ID] = &cp
	return nil
}

func (f fakeMessages) GetByID(_ context.Context, id string) (*model.Message, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	m, ok := f.db.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (f fakeMessages) GetByExternalID(_ context.Context, externalID string) (*model.Message, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, m := range f.db.messages {
		if m.ExternalID != nil && *m.ExternalID == externalID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (f fakeMessages) MarkSent(_ context.Context, id, externalID string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	m := f.db.messages[id]
	if m == nil || m.Status != model.StatusQueued {
		return false, nil
	}
	m.Status = model.StatusSent
	m.ExternalID = &externalID
	return true, nil
}

func (f fakeMessages) MarkFailed(_ context.Context, id, reason string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	m := f.db.messages[id]
	if m == nil || m.Status != model.StatusQueued {
		return false, nil
	}
	m.Status = model.StatusFailed
	m.Error = reason
	return true, nil
}

func (f fakeMessages) Transition(_ context.Context, id string, next model.MessageStatus) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	m := f.db.messages[id]
	if m == nil || !m.Status.CanTransition(next) {
		return false, nil
	}
	m.Status = next
	return true, nil
}

func (f fakeMessages) InsertInbound(_ context.Context, m *model.Message) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, existing := range f.db.messages {
		if existing.ExternalID != nil && m.ExternalID != nil && *existing.ExternalID == *m.ExternalID {
			return false, nil
		}
	}
	m.CreatedAt = f.db.tick()
	cp := *m
	f.db.messages[m.ID] = &cp
	return true, nil
}

func (f fakeMessages) RecordProviderMessage(_ context.Context, pm *model.ProviderMessage) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if _, ok := f.db.audit[pm.ExternalID]; !ok {
		cp := *pm
		f.db.audit[pm.ExternalID] = &cp
	}
	return nil
}

func (f fakeMessages) UpdateProviderStatus(_ context.Context, externalID string, status model.MessageStatus) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if pm, ok := f.db.audit[externalID]; ok {
		pm.Status = status
	}
	return nil
}

func (f fakeMessages) ListStaleQueued(_ context.Context, olderThan time.Time, limit int) ([]*model.Message, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := []*model.Message{}
	for _, m := range f.db.messages {
		if m.Status == model.StatusQueued && m.Direction == model.DirectionOutbound && m.CreatedAt.Before(olderThan) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeMessages) ListByThread(_ context.Context, threadID string, limit int) ([]*model.Message, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := []*model.Message{}
	for _, m := range f.db.messages {
		if m.ThreadID == threadID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeMessages) HoldReceipt(_ context.Context, r *model.HeldReceipt) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if existing, ok := f.db.held[r.ExternalID]; ok && existing.Status.Terminal() {
		return nil
	}
	cp := *r
	cp.ReceivedAt = f.db.now()
	f.db.held[r.ExternalID] = &cp
	return nil
}

func (f fakeMessages) TakeReceipt(_ context.Context, externalID string) (*model.HeldReceipt, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.held[externalID]
	if !ok {
		return nil, nil
	}
	delete(f.db.held, externalID)
	return r, nil
}

func (f fakeMessages) PurgeHeldReceipts(_ context.Context, olderThan time.Time) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var n int64
	for id, r := range f.db.held {
		if r.ReceivedAt.Before(olderThan) {
			delete(f.db.held, id)
			n++
		}
	}
	return n, nil
}

// ---------- campaigns ----------

type fakeCampaigns struct{ db *memDB }

func (f fakeCampaigns) Create(_ context.Context, c *model.Campaign) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c.CreatedAt = f.db.tick()
	cp := *c
	f.db.campaigns[c.ID] = &cp
	return nil
}

func (f fakeCampaigns) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	if hook := f.db.onCampaignRead; hook != nil {
		hook(id)
	}
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (f fakeCampaigns) ListCampaigns(_ context.Context, workspaceID string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	all := []*model.Campaign{}
	for _, c := range f.db.campaigns {
		if c.WorkspaceID == workspaceID && (status == "" || string(c.Status) == status) {
			cp := *c
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (f fakeCampaigns) TargetListExists(_ context.Context, workspaceID, listID string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.listOwner[listID] == workspaceID, nil
}

func (f fakeCampaigns) TransitionStatus(_ context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.campaigns[id]
	if !ok {
		return false, nil
	}
	match := false
	for _, s := range from {
		match = match || c.Status == s
	}
	if !match {
		return false, nil
	}
	now := f.db.now()
	if to == model.CampaignRunning && c.Status == model.CampaignScheduled && !c.Due(now) {
		return false, nil
	}
	switch to {
	case model.CampaignRunning:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case model.CampaignCompleted:
		c.CompletedAt = &now
	case model.CampaignCancelled:
		c.CancelledAt = &now
	}
	c.Status = to
	return true, nil
}

func (f fakeCampaigns) ListByStatus(_ context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range f.db.campaigns {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// campaignMessage returns the campaign's message to a contact; caller holds mu.
func (f fakeCampaigns) campaignMessage(campaignID, contactID string) *model.Message {
	for _, m := range f.db.messages {
		if m.CampaignID != nil && *m.CampaignID == campaignID && m.ContactID == contactID {
			return m
		}
	}
	return nil
}

func (f fakeCampaigns) skipped(campaignID, contactID string) bool {
	for _, e := range f.db.batchLog {
		if e.CampaignID == campaignID && e.ContactID == contactID && e.Kind == "skipped" {
			return true
		}
	}
	return false
}

func (f fakeCampaigns) unsent(c *model.Campaign) []string {
	out := []string{}
	for _, contactID := range f.db.lists[c.TargetListID] {
		if f.campaignMessage(c.ID, contactID) == nil && !f.skipped(c.ID, contactID) {
			out = append(out, contactID)
		}
	}
	return out
}

func (f fakeCampaigns) NextRecipients(_ context.Context, c *model.Campaign, limit int) ([]string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := f.unsent(c)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeCampaigns) CountUnsentTargets(_ context.Context, c *model.Campaign) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return len(f.unsent(c)), nil
}

func (f fakeCampaigns) CountTargets(_ context.Context, listID string) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return len(f.db.lists[listID]), nil
}

func (f fakeCampaigns) CountSentSince(_ context.Context, campaignID string, since time.Time) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	n := 0
	for _, m := range f.db.messages {
		if m.CampaignID != nil && *m.CampaignID == campaignID && !m.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f fakeCampaigns) CountUnfinishedTargets(_ context.Context, c *model.Campaign) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	n := 0
	for _, contactID := range f.db.lists[c.TargetListID] {
		m := f.campaignMessage(c.ID, contactID)
		finished := m != nil && (m.Status == model.StatusDelivered || m.Status == model.StatusFailed)
		if !finished && !f.skipped(c.ID, contactID) {
			n++
		}
	}
	return n, nil
}

func (f fakeCampaigns) AppendBatchLog(_ context.Context, e *model.BatchLogEntry) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.batchLog = append(f.db.batchLog, *e)
	return nil
}

func (f fakeCampaigns) CountMessages(_ context.Context, campaignID string) (*model.CampaignStats, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s := &model.CampaignStats{CampaignID: campaignID}
	firstInThread := map[string]time.Time{}
	for _, m := range f.db.messages {
		if m.CampaignID == nil || *m.CampaignID != campaignID {
			continue
		}
		if m.Status != model.StatusQueued {
			s.SentCount++
		}
		switch m.Status {
		case model.StatusDelivered:
			s.DeliveredCount++
		case model.StatusFailed:
			s.FailedCount++
		}
		if t, ok := firstInThread[m.ThreadID]; !ok || m.CreatedAt.Before(t) {
			firstInThread[m.ThreadID] = m.CreatedAt
		}
	}
	for _, m := range f.db.messages {
		if m.Direction != model.DirectionInbound {
			continue
		}
		if t, ok := firstInThread[m.ThreadID]; ok && !m.CreatedAt.Before(t) {
			s.ResponseCount++
		}
	}
	return s, nil
}

func (f fakeCampaigns) SaveStats(_ context.Context, s *model.CampaignStats) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s.RefreshedAt = f.db.now()
	cp := *s
	f.db.stats[s.CampaignID] = &cp
	return nil
}

func (f fakeCampaigns) GetStats(_ context.Context, campaignID string) (*model.CampaignStats, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s, ok := f.db.stats[campaignID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f fakeCampaigns) CampaignsForThread(_ context.Context, threadID string) ([]string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	seen := map[string]bool{}
	out := []string{}
	for _, m := range f.db.messages {
		if m.ThreadID == threadID && m.CampaignID != nil && !seen[*m.CampaignID] {
			seen[*m.CampaignID] = true
			out = append(out, *m.CampaignID)
		}
	}
	return out, nil
}

// ---------- billing ----------

type fakeBilling struct{ db *memDB }

func (f fakeBilling) UpdateSubscription(_ context.Context, rec *model.BillingRecord) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	existing, ok := f.db.billing[rec.StripeCustomerID]
	if !ok {
		return false, nil
	}
	ws := existing.WorkspaceID
	cp := *rec
	cp.WorkspaceID = ws
	f.db.billing[rec.StripeCustomerID] = &cp
	return true, nil
}

// ---------- provider ----------

type fakeProvider struct {
	mu    sync.Mutex
	sent  []provider.SendRequest
	err   error
	delay time.Duration
	seq   int
	// beforeReturn runs after the provider accepted a message but before
	// Send returns, like a callback racing the response.
	beforeReturn func(externalID string)
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Send(_ context.Context, req provider.SendRequest) (provider.SendResult, error) {
	time.Sleep(p.delay)
	p.mu.Lock()
	p.sent = append(p.sent, req)
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return provider.SendResult{}, err
	}
	p.seq++
	externalID := fmt.Sprintf("ext_%d", p.seq)
	hook := p.beforeReturn
	p.mu.Unlock()

	if hook != nil {
		hook(externalID)
	}
	return provider.SendResult{ExternalID: externalID}, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fakeFactory struct{ p *fakeProvider }

func (f fakeFactory) For(*model.Sender) (provider.Sender, error) { return f.p, nil }

// ---------- wiring ----------

type harness struct {
	db         *memDB
	provider   *fakeProvider
	threads    *fakeThreads
	limiter    *ratelimit.Limiter
	queue      *queue.InMemoryQueue
	dispatcher *service.Dispatcher
	campaigns  *service.CampaignService
	webhooks   *service.WebhookService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db := newMemDB()
	db.addWorkspace("ws_1", "hook-1")
	h := &harness{
		db:       db,
		provider: &fakeProvider{},
		threads:  &fakeThreads{db: db},
		limiter:  ratelimit.New(rdb),
		queue:    queue.NewInMemoryQueue(zap.NewNop()),
	}
	logger := zap.NewNop()
	resolver := &service.ThreadResolver{Threads: h.threads, Logger: logger}
	h.dispatcher = &service.Dispatcher{
		Workspaces:        fakeWorkspaces{db},
		Contacts:          fakeContacts{db},
		Messages:          fakeMessages{db},
		Threads:           resolver,
		Limiter:           h.limiter,
		Providers:         fakeFactory{h.provider},
		Queue:             h.queue,
		DefaultDailyLimit: 1000,
		Logger:            logger,
	}
	h.campaigns = &service.CampaignService{
		CampaignRepo:      fakeCampaigns{db},
		ContactRepo:       fakeContacts{db},
		Workspaces:        fakeWorkspaces{db},
		Dispatcher:        h.dispatcher,
		Limiter:           h.limiter,
		DefaultDailyLimit: 1000,
		BatchConcurrency:  4,
		Logger:            logger,
	}
	h.webhooks = &service.WebhookService{
		Workspaces: fakeWorkspaces{db},
		Contacts:   fakeContacts{db},
		Messages:   fakeMessages{db},
		Threads:    resolver,
		Queue:      h.queue,
		Logger:     logger,
	}
	if err := queue.StartStatusSubscriber(h.queue, h.campaigns, logger); err != nil {
		t.Fatal(err)
	}
	return h
}

func strPtr(s string) *string { return &s }

// settle waits for queued status events to be handled.
func (h *harness) settle() { h.queue.Close() }
