// Package provider talks to SMS gateways.
package provider

import (
	"context"
	"net/http"
	"time"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

type SendRequest struct {
	From string // E.164
	To   string // E.164
	Body string
}

type SendResult struct {
	ExternalID string
}

// Sender delivers one message through a gateway. Implementations never retry.
type Sender interface {
	Name() string
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// Factory builds a gateway client bound to a sender's credentials.
type Factory interface {
	For(s *model.Sender) (Sender, error)
}

type Registry struct {
	SmrtphoneURL string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

func NewRegistry(smrtphoneURL string, timeout time.Duration) *Registry {
	return &Registry{
		SmrtphoneURL: smrtphoneURL,
		HTTPClient:   &http.Client{Timeout: timeout},
		Timeout:      timeout,
	}
}

func (r *Registry) For(s *model.Sender) (Sender, error) {
	if s.PhoneNumber == "" {
		return nil, appErrors.NewConfigError(s.WorkspaceID, "sender has no phone number")
	}
	switch s.Provider {
	case model.ProviderSmrtphone:
		if s.APIKey == "" {
			return nil, appErrors.NewConfigError(s.WorkspaceID, "missing smrtphone api key")
		}
		return &Smrtphone{BaseURL: r.SmrtphoneURL, APIKey: s.APIKey, Client: r.HTTPClient}, nil
	case model.ProviderTwilio:
		if s.AccountSID == "" || s.APIKey == "" {
			return nil, appErrors.NewConfigError(s.WorkspaceID, "missing twilio credentials")
		}
		return NewTwilio(s.AccountSID, s.APIKey, r.Timeout), nil
	default:
		return nil, appErrors.NewConfigError(s.WorkspaceID, "unknown provider "+s.Provider)
	}
}

var _ Factory = (*Registry)(nil)
