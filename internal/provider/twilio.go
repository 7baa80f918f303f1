package provider

import (
	"context"
	"errors"
	"time"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

type Twilio struct {
	api messageCreator
}

func NewTwilio(accountSid, authToken string, timeout time.Duration) *Twilio {
	c := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Twilio{api: c.Api}
}

func (t *Twilio) Name() string { return model.ProviderTwilio }

func (t *Twilio) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, appErrors.WrapProviderError(t.Name(), err)
	}

	params := &api.CreateMessageParams{}
	params.SetBody(req.Body)
	params.SetFrom(req.From)
	params.SetTo(req.To)

	resp, err := t.api.CreateMessage(params)
	if err != nil {
		var restErr *client.TwilioRestError
		if errors.As(err, &restErr) {
			return SendResult{}, appErrors.NewProviderError(t.Name(), restErr.Status, restErr.Message)
		}
		return SendResult{}, appErrors.WrapProviderError(t.Name(), err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return SendResult{}, appErrors.NewProviderError(t.Name(), 0, "response carried no sid")
	}
	return SendResult{ExternalID: *resp.Sid}, nil
}
