// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/ids"
	"github.com/unclebandit/campaign-engine/internal/metrics"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/mutex"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

type CampaignService struct {
	CampaignRepo      repository.CampaignRepositoryInterface
	ContactRepo       repository.ContactRepositoryInterface
	Workspaces        repository.WorkspaceRepositoryInterface
	Dispatcher        MessageSender
	Limiter           RateLimiter
	Mutex             *mutex.Mutex
	DefaultDailyLimit int
	BatchConcurrency  int
	Logger            *zap.Logger
	Now               func() time.Time

	statsLocks sync.Map // campaign id -> *sync.Mutex
}

type CreateCampaignInput struct {
	Name         string  `json:"name"`
	TargetListID string  `json:"target_list_id"`
	BodyTemplate string  `json:"body_template"`
	ScheduledFor *string `json:"scheduled_for,omitempty"`
	DailyLimit   int     `json:"daily_limit"`
}

type CampaignDetails struct {
	*model.Campaign
	Stats    *model.CampaignStats `json:"stats"`
	Progress Progress             `json:"progress"`
}

// BatchResult summarises one scheduler batch.
type BatchResult struct {
	CampaignID string `json:"campaign_id"`
	Selected   int    `json:"selected"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Stopped    bool   `json:"stopped"`
	Completed  bool   `json:"completed"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ====================== CRUD ======================

func (s *CampaignService) CreateCampaign(ctx context.Context, workspaceID string, in CreateCampaignInput) (*model.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, appErrors.NewValidationError("name", "name is required")
	}
	if strings.TrimSpace(in.BodyTemplate) == "" {
		return nil, appErrors.NewValidationError("body_template", "template cannot be empty")
	}
	if in.TargetListID == "" {
		return nil, appErrors.NewValidationError("target_list_id", "target list is required")
	}
	if in.DailyLimit < 0 {
		return nil, appErrors.NewValidationError("daily_limit", "must not be negative")
	}

	c := &model.Campaign{
		ID:           ids.New(ids.PrefixCampaign),
		WorkspaceID:  workspaceID,
		TargetListID: in.TargetListID,
		Name:         in.Name,
		BodyTemplate: in.BodyTemplate,
		Status:       model.CampaignScheduled,
		DailyLimit:   in.DailyLimit,
	}
	if in.ScheduledFor != nil && *in.ScheduledFor != "" {
		t, err := time.Parse(time.RFC3339, *in.ScheduledFor)
		if err != nil {
			return nil, appErrors.NewValidationError("scheduled_for", "must be an RFC3339 timestamp")
		}
		c.ScheduledFor = &t
	}

	exists, err := s.CampaignRepo.TargetListExists(ctx, workspaceID, in.TargetListID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, appErrors.NewNotFound("target list", in.TargetListID)
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.Logger.Info("campaign created", zap.String("campaign_id", c.ID), zap.String("workspace_id", workspaceID))
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, workspaceID string, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, workspaceID, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// getOwned hides campaigns of other workspaces behind not-found.
func (s *CampaignService) getOwned(ctx context.Context, workspaceID, id string) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.WorkspaceID != workspaceID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (s *CampaignService) GetCampaignDetails(ctx context.Context, workspaceID, id string) (*CampaignDetails, error) {
	c, err := s.getOwned(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.CampaignRepo.GetStats(ctx, id)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		if stats, err = s.RefreshStats(ctx, c); err != nil {
			return nil, err
		}
	}
	return &CampaignDetails{
		Campaign: c,
		Stats:    stats,
		Progress: ComputeProgress(countsOf(stats), stats.TotalMessages, c.DailyLimit),
	}, nil
}

// RenderPreview renders the campaign body, or override when given, for one contact.
func (s *CampaignService) RenderPreview(ctx context.Context, workspaceID, campaignID, contactID string, overrideTemplate *string) (string, error) {
	campaign, err := s.getOwned(ctx, workspaceID, campaignID)
	if err != nil {
		return "", err
	}

	contact, err := s.ContactRepo.GetByID(ctx, workspaceID, contactID)
	if err != nil {
		return "", err
	}
	if contact == nil {
		return "", appErrors.NewNotFound("contact", contactID)
	}

	template := campaign.BodyTemplate
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", appErrors.NewValidationError("template", "template cannot be empty")
	}

	return RenderTemplate(template, ContactTemplateData(contact)), nil
}

// ====================== State machine ======================

func (s *CampaignService) Start(ctx context.Context, workspaceID, id string) (*model.Campaign, error) {
	return s.transition(ctx, workspaceID, id, []model.CampaignStatus{model.CampaignScheduled}, model.CampaignRunning)
}

func (s *CampaignService) Pause(ctx context.Context, workspaceID, id string) (*model.Campaign, error) {
	return s.transition(ctx, workspaceID, id, []model.CampaignStatus{model.CampaignRunning}, model.CampaignPaused)
}

func (s *CampaignService) Resume(ctx context.Context, workspaceID, id string) (*model.Campaign, error) {
	return s.transition(ctx, workspaceID, id, []model.CampaignStatus{model.CampaignPaused}, model.CampaignRunning)
}

func (s *CampaignService) Cancel(ctx context.Context, workspaceID, id string) (*model.Campaign, error) {
	return s.transition(ctx, workspaceID, id, model.CampaignSources(model.CampaignCancelled), model.CampaignCancelled)
}

func (s *CampaignService) transition(ctx context.Context, workspaceID, id string, from []model.CampaignStatus, to model.CampaignStatus) (*model.Campaign, error) {
	c, err := s.getOwned(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if !statusIn(c.Status, from) {
		return nil, appErrors.NewInvalidTransition(id, string(c.Status), string(to))
	}
	if c.Status == model.CampaignScheduled && to == model.CampaignRunning && !c.Due(s.now()) {
		return nil, appErrors.NewInvalidTransition(id, string(c.Status), string(to)+" before scheduled_for")
	}

	ok, err := s.CampaignRepo.TransitionStatus(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	updated, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with another command or the scheduler.
		return nil, appErrors.NewInvalidTransition(id, string(updated.Status), string(to))
	}
	s.Logger.Info("campaign status changed",
		zap.String("campaign_id", id),
		zap.String("from", string(c.Status)),
		zap.String("to", string(to)),
	)
	return updated, nil
}

func statusIn(s model.CampaignStatus, set []model.CampaignStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// ====================== Scheduler ======================

// Tick starts due campaigns and runs one batch for every running campaign.
// A campaign already being batched by another worker is skipped.
func (s *CampaignService) Tick(ctx context.Context, now time.Time) error {
	scheduled, err := s.CampaignRepo.ListByStatus(ctx, model.CampaignScheduled)
	if err != nil {
		return fmt.Errorf("list scheduled campaigns: %w", err)
	}
	for _, c := range scheduled {
		if !c.Due(now) {
			continue
		}
		ok, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignScheduled}, model.CampaignRunning)
		if err != nil {
			s.Logger.Error("failed to start campaign", zap.String("campaign_id", c.ID), zap.Error(err))
			continue
		}
		if ok {
			s.Logger.Info("campaign started", zap.String("campaign_id", c.ID))
		}
	}

	running, err := s.CampaignRepo.ListByStatus(ctx, model.CampaignRunning)
	if err != nil {
		return fmt.Errorf("list running campaigns: %w", err)
	}
	for _, c := range running {
		c := c
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := coalesce(ctx, s.Mutex, "campaign-batch:"+c.ID, mutex.Skip, func(ctx context.Context) (*BatchResult, error) {
			return s.RunBatch(ctx, c)
		})
		switch {
		case errors.Is(err, mutex.ErrInFlight):
			s.Logger.Debug("campaign batch already running elsewhere", zap.String("campaign_id", c.ID))
		case err != nil:
			s.Logger.Error("campaign batch failed", zap.String("campaign_id", c.ID), zap.Error(err))
		case res.Selected > 0:
			s.Logger.Info("campaign batch finished",
				zap.String("campaign_id", c.ID),
				zap.Int("selected", res.Selected),
				zap.Int("sent", res.Sent),
				zap.Int("failed", res.Failed),
				zap.Int("skipped", res.Skipped),
				zap.Bool("stopped", res.Stopped),
			)
		}
	}
	return nil
}

// BatchSize is min(campaign budget left today, unsent targets, sender quota left).
// A campaign without a daily limit is bounded by the sender quota alone.
func BatchSize(dailyLimit, sentToday, remainingTargets, senderRemaining int) int {
	size := remainingTargets
	if dailyLimit > 0 && dailyLimit-sentToday < size {
		size = dailyLimit - sentToday
	}
	if senderRemaining < size {
		size = senderRemaining
	}
	if size < 0 {
		return 0
	}
	return size
}

// RunBatch sends to the next recipients of a running campaign. Per-recipient
// failures are logged and never abort the batch; a pause or cancel observed
// before a recipient stops it.
func (s *CampaignService) RunBatch(ctx context.Context, c *model.Campaign) (*BatchResult, error) {
	res := &BatchResult{CampaignID: c.ID}
	now := s.now()

	sender, err := s.Workspaces.GetActiveSender(ctx, c.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		metrics.CampaignBatchesTotal.WithLabelValues("config_error").Inc()
		return nil, appErrors.NewConfigError(c.WorkspaceID, "no active sender")
	}
	senderRemaining, err := s.Limiter.Remaining(ctx, sender.ID, now, sender.EffectiveLimit(s.DefaultDailyLimit))
	if err != nil {
		return nil, err
	}
	sentToday, err := s.CampaignRepo.CountSentSince(ctx, c.ID, startOfDay(now))
	if err != nil {
		return nil, err
	}
	remainingTargets, err := s.CampaignRepo.CountUnsentTargets(ctx, c)
	if err != nil {
		return nil, err
	}

	size := BatchSize(c.DailyLimit, sentToday, remainingTargets, senderRemaining)
	if size == 0 {
		if remainingTargets > 0 {
			metrics.CampaignBatchesTotal.WithLabelValues("throttled").Inc()
		}
		done, err := s.EvaluateCompletion(ctx, c.ID)
		res.Completed = done
		return res, err
	}

	recipients, err := s.CampaignRepo.NextRecipients(ctx, c, size)
	if err != nil {
		return nil, err
	}
	res.Selected = len(recipients)

	limit := s.BatchConcurrency
	if limit < 1 {
		limit = 1
	}
	var (
		g       errgroup.Group
		stopped atomic.Bool
		mu      sync.Mutex
	)
	g.SetLimit(limit)
	for _, contactID := range recipients {
		contactID := contactID
		g.Go(func() error {
			if stopped.Load() {
				return nil
			}
			outcome := s.sendOne(ctx, c, contactID, &stopped)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSent:
				res.Sent++
			case outcomeFailed:
				res.Failed++
			case outcomeSkipped:
				res.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()
	res.Stopped = stopped.Load()

	result := "ok"
	if res.Stopped {
		result = "stopped"
	}
	metrics.CampaignBatchesTotal.WithLabelValues(result).Inc()

	if _, err := s.RefreshStats(ctx, c); err != nil {
		s.Logger.Warn("stats refresh after batch failed", zap.String("campaign_id", c.ID), zap.Error(err))
	}
	done, err := s.EvaluateCompletion(ctx, c.ID)
	res.Completed = done
	return res, err
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeSent
	outcomeFailed
	outcomeSkipped
)

func (s *CampaignService) sendOne(ctx context.Context, c *model.Campaign, contactID string, stopped *atomic.Bool) outcome {
	current, err := s.CampaignRepo.GetByID(ctx, c.ID)
	if err != nil {
		s.Logger.Error("campaign re-read failed", zap.String("campaign_id", c.ID), zap.Error(err))
		stopped.Store(true)
		return outcomeNone
	}
	if current.Status != model.CampaignRunning {
		stopped.Store(true)
		return outcomeNone
	}

	contact, err := s.ContactRepo.GetByID(ctx, c.WorkspaceID, contactID)
	if err != nil {
		s.logRecipient(ctx, c.ID, contactID, "error", err)
		return outcomeFailed
	}
	if contact == nil {
		s.logRecipient(ctx, c.ID, contactID, repository.BatchLogSkipped, appErrors.NewNotFound("contact", contactID))
		return outcomeSkipped
	}

	body := RenderTemplate(current.BodyTemplate, ContactTemplateData(contact))
	_, err = s.Dispatcher.Send(ctx, SendRequest{
		WorkspaceID: c.WorkspaceID,
		ContactID:   contactID,
		Body:        body,
		CampaignID:  &c.ID,
	})

	var (
		ve *appErrors.ValidationError
		nf *appErrors.NotFoundError
		pe *appErrors.ProviderError
		ce *appErrors.ConfigError
	)
	switch {
	case err == nil:
		return outcomeSent
	case errors.Is(err, appErrors.ErrAlreadyDispatched):
		return outcomeSkipped
	case errors.As(err, &ve), errors.As(err, &nf):
		s.logRecipient(ctx, c.ID, contactID, repository.BatchLogSkipped, err)
		return outcomeSkipped
	case appErrors.IsRateLimited(err):
		// Recipient stays unsent and is picked up once quota frees up.
		s.logRecipient(ctx, c.ID, contactID, "rate_limited", err)
		return outcomeFailed
	case errors.As(err, &pe):
		s.logRecipient(ctx, c.ID, contactID, "provider_error", err)
		return outcomeFailed
	case errors.As(err, &ce):
		s.logRecipient(ctx, c.ID, contactID, "config_error", err)
		return outcomeFailed
	default:
		s.logRecipient(ctx, c.ID, contactID, "error", err)
		return outcomeFailed
	}
}

func (s *CampaignService) logRecipient(ctx context.Context, campaignID, contactID, kind string, cause error) {
	s.Logger.Warn("campaign recipient failed",
		zap.String("campaign_id", campaignID),
		zap.String("contact_id", contactID),
		zap.String("kind", kind),
		zap.Error(cause),
	)
	entry := &model.BatchLogEntry{CampaignID: campaignID, ContactID: contactID, Kind: kind, Detail: cause.Error()}
	if err := s.CampaignRepo.AppendBatchLog(context.WithoutCancel(ctx), entry); err != nil {
		s.Logger.Error("failed to write batch log", zap.String("campaign_id", campaignID), zap.Error(err))
	}
}

// ====================== Completion & stats ======================

// EvaluateCompletion completes a running campaign once every target has a
// delivered or failed message.
func (s *CampaignService) EvaluateCompletion(ctx context.Context, id string) (bool, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if c.Status != model.CampaignRunning {
		return false, nil
	}
	unfinished, err := s.CampaignRepo.CountUnfinishedTargets(ctx, c)
	if err != nil {
		return false, err
	}
	if unfinished > 0 {
		return false, nil
	}
	ok, err := s.CampaignRepo.TransitionStatus(ctx, id, []model.CampaignStatus{model.CampaignRunning}, model.CampaignCompleted)
	if err != nil || !ok {
		return false, err
	}
	s.Logger.Info("campaign completed", zap.String("campaign_id", id))
	if _, err := s.RefreshStats(ctx, c); err != nil {
		s.Logger.Warn("final stats refresh failed", zap.String("campaign_id", id), zap.Error(err))
	}
	return true, nil
}

// RefreshStats recomputes the cached counters from the messages table.
// Refreshes of one campaign are serialized so a slow reader cannot overwrite newer counts.
func (s *CampaignService) RefreshStats(ctx context.Context, c *model.Campaign) (*model.CampaignStats, error) {
	l, _ := s.statsLocks.LoadOrStore(c.ID, &sync.Mutex{})
	mu := l.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	stats, err := s.CampaignRepo.CountMessages(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	total, err := s.CampaignRepo.CountTargets(ctx, c.TargetListID)
	if err != nil {
		return nil, fmt.Errorf("count targets: %w", err)
	}
	stats.TotalMessages = total
	if err := s.CampaignRepo.SaveStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("save stats: %w", err)
	}
	return stats, nil
}

// HandleStatusEvent refreshes every campaign a status change can affect.
func (s *CampaignService) HandleStatusEvent(ctx context.Context, ev queue.StatusEvent) error {
	var campaignIDs []string
	switch {
	case ev.CampaignID != "":
		campaignIDs = []string{ev.CampaignID}
	case ev.Direction == model.DirectionInbound && ev.ThreadID != "":
		found, err := s.CampaignRepo.CampaignsForThread(ctx, ev.ThreadID)
		if err != nil {
			return err
		}
		campaignIDs = found
	}

	for _, id := range campaignIDs {
		c, err := s.CampaignRepo.GetByID(ctx, id)
		if err != nil {
			if appErrors.IsNotFound(err) {
				continue
			}
			return err
		}
		if _, err := s.RefreshStats(ctx, c); err != nil {
			return err
		}
		if _, err := s.EvaluateCompletion(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func countsOf(s *model.CampaignStats) StatsCounts {
	return StatsCounts{
		TotalMessages: s.TotalMessages,
		Sent:          s.SentCount,
		Delivered:     s.DeliveredCount,
		Failed:        s.FailedCount,
		Responses:     s.ResponseCount,
	}
}

var _ queue.StatusEventHandler = (*CampaignService)(nil)
