package service

import "math"

// StatsCounts are the raw counters of one campaign.
type StatsCounts struct {
	TotalMessages int `json:"total_messages"`
	Sent          int `json:"sent_count"`
	Delivered     int `json:"delivered_count"`
	Failed        int `json:"failed_count"`
	Responses     int `json:"response_count"`
}

// Progress is what callers render. Rates are percentages.
type Progress struct {
	TotalTargets           int     `json:"total_targets"`
	DeliveryRate           float64 `json:"delivery_rate"`
	ResponseRate           float64 `json:"response_rate"`
	FailureRate            float64 `json:"failure_rate"`
	PropertiesProgress     float64 `json:"properties_progress"`
	EstimatedDaysRemaining *int    `json:"estimated_days_remaining"`
}

// ComputeProgress derives rates and the days-remaining projection. A
// non-positive dailyLimit leaves EstimatedDaysRemaining nil.
func ComputeProgress(c StatsCounts, totalTargets, dailyLimit int) Progress {
	p := Progress{
		TotalTargets:       totalTargets,
		DeliveryRate:       percent(c.Delivered, c.Sent),
		ResponseRate:       percent(c.Responses, c.Delivered),
		FailureRate:        percent(c.Failed, c.Sent),
		PropertiesProgress: percent(c.Sent, totalTargets),
	}
	if dailyLimit > 0 {
		remaining := c.TotalMessages - c.Sent
		if remaining < 0 {
			remaining = 0
		}
		days := int(math.Ceil(float64(remaining) / float64(dailyLimit)))
		p.EstimatedDaysRemaining = &days
	}
	return p
}

func percent(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*10000) / 100
}
