package service_test

import (
	"testing"

	"github.com/unclebandit/campaign-engine/internal/service"
)

func TestComputeProgressRates(t *testing.T) {
	p := service.ComputeProgress(service.StatsCounts{TotalMessages: 120, Sent: 80, Delivered: 72, Failed: 8, Responses: 9}, 120, 50)

	if p.DeliveryRate != 90.0 {
		t.Errorf("expected delivery rate 90.0, got %v", p.DeliveryRate)
	}
	if p.ResponseRate != 12.5 {
		t.Errorf("expected response rate 12.5, got %v", p.ResponseRate)
	}
	if p.FailureRate != 10.0 {
		t.Errorf("expected failure rate 10.0, got %v", p.FailureRate)
	}
	if p.PropertiesProgress != 66.67 {
		t.Errorf("expected properties progress 66.67, got %v", p.PropertiesProgress)
	}
	if p.EstimatedDaysRemaining == nil || *p.EstimatedDaysRemaining != 1 {
		t.Errorf("expected 1 day remaining, got %v", p.EstimatedDaysRemaining)
	}
}

func TestComputeProgressZeroDenominators(t *testing.T) {
	p := service.ComputeProgress(service.StatsCounts{}, 0, 10)
	if p.DeliveryRate != 0 || p.ResponseRate != 0 || p.PropertiesProgress != 0 {
		t.Errorf("expected all zero rates, got %+v", p)
	}
	if p.EstimatedDaysRemaining == nil || *p.EstimatedDaysRemaining != 0 {
		t.Errorf("expected 0 days, got %v", p.EstimatedDaysRemaining)
	}
}

func TestEstimatedDaysRemaining(t *testing.T) {
	cases := []struct {
		total, sent, limit int
		want               *int
	}{
		{120, 0, 50, intPtr(3)},
		{120, 50, 50, intPtr(2)},
		{120, 120, 50, intPtr(0)},
		{100, 130, 50, intPtr(0)},
		{120, 0, 0, nil},
		{120, 0, -1, nil},
	}
	for _, c := range cases {
		p := service.ComputeProgress(service.StatsCounts{TotalMessages: c.total, Sent: c.sent}, c.total, c.limit)
		switch {
		case c.want == nil && p.EstimatedDaysRemaining != nil:
			t.Errorf("%+v: expected not applicable, got %d", c, *p.EstimatedDaysRemaining)
		case c.want != nil && (p.EstimatedDaysRemaining == nil || *p.EstimatedDaysRemaining != *c.want):
			t.Errorf("%+v: expected %d, got %v", c, *c.want, p.EstimatedDaysRemaining)
		}
	}
}

func TestBatchSize(t *testing.T) {
	cases := []struct {
		limit, sentToday, remaining, sender, want int
	}{
		{50, 0, 120, 1000, 50},
		{50, 30, 120, 1000, 20},
		{50, 60, 120, 1000, 0},
		{50, 0, 20, 1000, 20},
		{50, 0, 120, 10, 10},
		{0, 0, 120, 40, 40},
	}
	for _, c := range cases {
		if got := service.BatchSize(c.limit, c.sentToday, c.remaining, c.sender); got != c.want {
			t.Errorf("BatchSize(%d,%d,%d,%d) = %d, want %d", c.limit, c.sentToday, c.remaining, c.sender, got, c.want)
		}
	}
}

func intPtr(i int) *int { return &i }
