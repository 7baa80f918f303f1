package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

const DefaultSmrtphoneURL = "https://api.smrtphone.io/v1/messages"

// Smrtphone posts form-encoded messages authenticated by a per-workspace API key.
type Smrtphone struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type smrtphoneResponse struct {
	MessageID json.RawMessage `json:"messageId"`
}

func (s *Smrtphone) Name() string { return model.ProviderSmrtphone }

func (s *Smrtphone) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	form := url.Values{}
	form.Set("from", Digits(req.From))
	form.Set("to", Digits(req.To))
	form.Set("message", req.Body)

	endpoint := s.BaseURL
	if endpoint == "" {
		endpoint = DefaultSmrtphoneURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{}, appErrors.WrapProviderError(s.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("X-Auth-smrtPhone", s.APIKey)

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return SendResult{}, appErrors.WrapProviderError(s.Name(), err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SendResult{}, appErrors.NewProviderError(s.Name(), resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out smrtphoneResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return SendResult{}, appErrors.WrapProviderError(s.Name(), fmt.Errorf("decode response: %w", err))
	}
	id := strings.Trim(string(out.MessageID), `"`)
	if id == "" || id == "null" {
		return SendResult{}, appErrors.NewProviderError(s.Name(), resp.StatusCode, "response carried no messageId")
	}
	return SendResult{ExternalID: id}, nil
}
