// Package auth manages upstream credentials: OAuth token refresh with
// per-credential single-flight coordination, and device fingerprints.
package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/awsl-project/kirod/internal/domain"
	"github.com/awsl-project/kirod/internal/repository"
)

const (
	// SocialRefreshURL refreshes tokens for social-login credentials.
	SocialRefreshURL = "https://prod.us-east-1.auth.desktop.kiro.dev/refreshToken"
	// IdcTokenURL is the AWS Identity Center OIDC token endpoint.
	IdcTokenURL = "https://oidc.us-east-1.amazonaws.com/token"

	// expiryMargin refreshes tokens slightly before their recorded expiry.
	expiryMargin = 5 * time.Minute
)

type socialRefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type idcRefreshRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	GrantType    string `json:"grantType"`
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int    `json:"expiresIn"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ProfileArn   string `json:"profileArn,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
}

// TokenManager returns valid access tokens for pool credentials. Concurrent
// callers that observe the same expired token share one refresh: the
// single-flight group keys on the credential id, so per credential at most
// one refresh HTTP call is ever in flight.
type TokenManager struct {
	repo       repository.CredentialRepository
	httpClient *http.Client
	group      singleflight.Group

	// SocialURL and IdcURL default to the production endpoints; tests and
	// alternate stacks may point them elsewhere before first use.
	SocialURL string
	IdcURL    string
}

// NewTokenManager builds a manager that persists refreshed tokens through repo.
func NewTokenManager(repo repository.CredentialRepository, httpClient *http.Client) *TokenManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &TokenManager{
		repo:       repo,
		httpClient: httpClient,
		SocialURL:  SocialRefreshURL,
		IdcURL:     IdcTokenURL,
	}
}

// AccessToken returns a currently valid token for cred, refreshing it first
// when the cached one is missing or inside the expiry margin.
func (m *TokenManager) AccessToken(ctx context.Context, cred *domain.Credential) (string, error) {
	if cred.TokenValid(time.Now(), expiryMargin) {
		return cred.AccessToken, nil
	}
	return m.refresh(ctx, cred)
}

// ForceRefresh discards the cached token and performs a refresh. The Kiro
// client calls it once after an upstream 401 or 403 before giving up on the
// credential.
func (m *TokenManager) ForceRefresh(ctx context.Context, cred *domain.Credential) (string, error) {
	cred.AccessToken = ""
	cred.ExpiresAt = nil
	return m.refresh(ctx, cred)
}

func (m *TokenManager) refresh(ctx context.Context, cred *domain.Credential) (string, error) {
	token, err, _ := m.group.Do(strconv.FormatUint(cred.ID, 10), func() (any, error) {
		// Re-read the row: a concurrent caller may have refreshed while we
		// waited for the flight slot.
		if fresh, err := m.repo.GetByID(cred.ID); err == nil {
			if fresh.TokenValid(time.Now(), expiryMargin) && cred.AccessToken != "" {
				return fresh.AccessToken, nil
			}
		}
		return m.doRefresh(ctx, cred)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (m *TokenManager) doRefresh(ctx context.Context, cred *domain.Credential) (string, error) {
	var (
		resp *refreshResponse
		err  error
	)
	switch cred.AuthMethod {
	case domain.AuthMethodIdC:
		resp, err = m.refreshIdc(ctx, cred)
	default:
		resp, err = m.refreshSocial(ctx, cred)
	}
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	if err := m.repo.UpdateTokens(cred.ID, resp.AccessToken, expiresAt, resp.ProfileArn); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}

	cred.AccessToken = resp.AccessToken
	cred.ExpiresAt = &expiresAt
	if resp.ProfileArn != "" {
		cred.ProfileArn = resp.ProfileArn
	}

	log.WithFields(log.Fields{
		"credential": cred.ID,
		"method":     cred.AuthMethod,
		"expires_in": resp.ExpiresIn,
	}).Debug("token refreshed")

	return resp.AccessToken, nil
}

func (m *TokenManager) refreshSocial(ctx context.Context, cred *domain.Credential) (*refreshResponse, error) {
	body, err := sonic.Marshal(socialRefreshRequest{RefreshToken: cred.RefreshToken})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.SocialURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return m.send(req)
}

func (m *TokenManager) refreshIdc(ctx context.Context, cred *domain.Credential) (*refreshResponse, error) {
	body, err := sonic.Marshal(idcRefreshRequest{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		GrantType:    "refresh_token",
		RefreshToken: cred.RefreshToken,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.IdcURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-amz-user-agent", "aws-sdk-js/3.738.0 ua/2.1 os/other lang/js api/sso-oidc#3.738.0")
	req.Header.Set("Accept", "*/*")

	return m.send(req)
}

func (m *TokenManager) send(req *http.Request) (*refreshResponse, error) {
	resp, err := m.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, domain.NewTransientError(err, "token refresh request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransientError(err, "read token refresh response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// An invalid or revoked refresh token cannot recover by retrying.
		return nil, domain.NewFatalError(
			fmt.Errorf("refresh rejected: status %d, body %s", resp.StatusCode, body),
			"refresh token invalid or revoked")
	default:
		return nil, domain.NewTransientError(
			fmt.Errorf("refresh failed: status %d", resp.StatusCode),
			"token endpoint unavailable")
	}

	var parsed refreshResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return nil, domain.NewTransientError(err, "decode token refresh response")
	}
	if parsed.AccessToken == "" {
		return nil, domain.NewFatalError(fmt.Errorf("refresh response missing accessToken"), "refresh response incomplete")
	}
	return &parsed, nil
}
