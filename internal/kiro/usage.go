package kiro

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/awsl-project/kirod/internal/domain"
)

// usageLimitsResponse is the upstream quota payload.
type usageLimitsResponse struct {
	DaysUntilReset     int     `json:"daysUntilReset"`
	NextDateReset      float64 `json:"nextDateReset"`
	UserInfo           *struct {
		Email  string `json:"email"`
		UserID string `json:"userId"`
	} `json:"userInfo"`
	SubscriptionInfo *struct {
		SubscriptionTitle string `json:"subscriptionTitle"`
		Type              string `json:"type"`
	} `json:"subscriptionInfo"`
	UsageBreakdownList []usageBreakdown `json:"usageBreakdownList"`
}

type usageBreakdown struct {
	ResourceType              string         `json:"resourceType"`
	UsageLimit                int            `json:"usageLimit"`
	UsageLimitWithPrecision   float64        `json:"usageLimitWithPrecision"`
	CurrentUsage              int            `json:"currentUsage"`
	CurrentUsageWithPrecision float64        `json:"currentUsageWithPrecision"`
	FreeTrialInfo             *freeTrialInfo `json:"freeTrialInfo,omitempty"`
}

type freeTrialInfo struct {
	FreeTrialStatus           string  `json:"freeTrialStatus"`
	UsageLimitWithPrecision   float64 `json:"usageLimitWithPrecision"`
	CurrentUsageWithPrecision float64 `json:"currentUsageWithPrecision"`
}

// FetchBalance queries the account quota for cred and returns the snapshot
// to cache on the credential row. CREDIT is the billing resource; an active
// free trial adds onto the base quota.
func (c *Client) FetchBalance(ctx context.Context, cred *domain.Credential) (*domain.CredentialBalance, error) {
	token, err := c.tokens.AccessToken(ctx, cred)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("isEmailRequired", "true")
	params.Set("origin", originAIEditor)
	if cred.ProfileArn != "" {
		params.Set("profileArn", cred.ProfileArn)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(KindUsageLimits)+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, cred, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewTransientError(err, "usage limits request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransientError(err, "read usage limits response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var parsed usageLimitsResponse
	if err := unmarshalJSON(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode usage limits: %w", err)
	}

	balance := &domain.CredentialBalance{}
	if parsed.SubscriptionInfo != nil {
		balance.SubscriptionTitle = parsed.SubscriptionInfo.SubscriptionTitle
		if balance.SubscriptionTitle == "" {
			balance.SubscriptionTitle = parsed.SubscriptionInfo.Type
		}
	}
	if parsed.NextDateReset > 0 {
		reset := time.Unix(int64(parsed.NextDateReset), 0).UTC()
		balance.NextResetAt = &reset
	}

	for _, breakdown := range parsed.UsageBreakdownList {
		if breakdown.ResourceType != "CREDIT" {
			continue
		}
		balance.UsageLimit = breakdown.UsageLimitWithPrecision
		balance.CurrentUsage = breakdown.CurrentUsageWithPrecision
		if ft := breakdown.FreeTrialInfo; ft != nil && ft.FreeTrialStatus == "ACTIVE" {
			balance.UsageLimit += ft.UsageLimitWithPrecision
			balance.CurrentUsage += ft.CurrentUsageWithPrecision
		}
		break
	}

	return balance, nil
}
