package service_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/service"
)

func TestReconcilerFailsOnlyStaleQueued(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.db.messages["msg_old"] = &model.Message{ID: "msg_old", WorkspaceID: "ws_1", ThreadID: "thr_x", Direction: model.DirectionOutbound, Status: model.StatusQueued, CreatedAt: now.Add(-time.Hour)}
	h.db.messages["msg_new"] = &model.Message{ID: "msg_new", WorkspaceID: "ws_1", ThreadID: "thr_x", Direction: model.DirectionOutbound, Status: model.StatusQueued, CreatedAt: now.Add(-time.Minute)}
	h.db.messages["msg_sent"] = &model.Message{ID: "msg_sent", WorkspaceID: "ws_1", ThreadID: "thr_x", Direction: model.DirectionOutbound, Status: model.StatusSent, CreatedAt: now.Add(-time.Hour)}

	r := &service.Reconciler{Messages: fakeMessages{h.db}, Queue: h.queue, StaleAfter: 15 * time.Minute, Logger: zap.NewNop()}
	n, err := r.Sweep(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 reconciled message, got %d", n)
	}
	if m := h.db.message("msg_old"); m.Status != model.StatusFailed || m.Error != "provider call never resolved" {
		t.Errorf("stale message not failed: %+v", m)
	}
	if h.db.message("msg_new").Status != model.StatusQueued || h.db.message("msg_sent").Status != model.StatusSent {
		t.Error("fresh or sent messages must be left alone")
	}

	// A second sweep finds nothing new.
	if n, _ := r.Sweep(context.Background(), now); n != 0 {
		t.Errorf("expected idempotent sweep, got %d", n)
	}
	h.settle()
}

func TestReconcilerUnblocksCampaignCompletion(t *testing.T) {
	h := newHarness(t)
	c := newRunningCampaign(t, h, 1, 10)

	// Simulate a crash after persisting: the message never left queued.
	h.db.mu.Lock()
	h.db.messages["msg_stuck"] = &model.Message{
		ID: "msg_stuck", WorkspaceID: "ws_1", ThreadID: "thr_1", ContactID: "ctc_lst_1_000", CampaignID: &c.ID,
		Direction: model.DirectionOutbound, Status: model.StatusQueued, CreatedAt: time.Now().Add(-time.Hour),
	}
	h.db.mu.Unlock()

	r := &service.Reconciler{Messages: fakeMessages{h.db}, Queue: h.queue, StaleAfter: time.Minute, Logger: zap.NewNop()}
	if _, err := r.Sweep(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	h.settle()
	if got := mustCampaign(t, h, c.ID).Status; got != model.CampaignCompleted {
		t.Errorf("expected completion after reconcile, got %s", got)
	}
}

func TestReconcilerDropsOldHeldReceipts(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.db.held["ext_old"] = &model.HeldReceipt{ExternalID: "ext_old", WorkspaceID: "ws_1", Status: model.StatusDelivered, ReceivedAt: now.Add(-48 * time.Hour)}
	h.db.held["ext_new"] = &model.HeldReceipt{ExternalID: "ext_new", WorkspaceID: "ws_1", Status: model.StatusDelivered, ReceivedAt: now.Add(-time.Minute)}

	r := &service.Reconciler{Messages: fakeMessages{h.db}, StaleAfter: time.Minute, Logger: zap.NewNop()}
	if _, err := r.Sweep(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.db.held["ext_old"]; ok {
		t.Error("day-old receipt should be dropped")
	}
	if _, ok := h.db.held["ext_new"]; !ok {
		t.Error("recent receipt must be kept")
	}
}
