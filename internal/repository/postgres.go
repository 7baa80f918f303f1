package repository

import (
	"errors"

	"github.com/lib/pq"
	"github.com/unclebandit/campaign-engine/internal/model"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func messageStatuses(in []model.MessageStatus) pq.StringArray {
	out := make(pq.StringArray, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func campaignStatuses(in []model.CampaignStatus) pq.StringArray {
	out := make(pq.StringArray, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
