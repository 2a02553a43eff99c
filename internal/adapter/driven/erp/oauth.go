package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.OAuthExchanger = (*OAuthClient)(nil)

// OAuthConfig identifies this application to the ERP's OAuth endpoints.
type OAuthConfig struct {
	TokenURL     string
	AuthorizeURL string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// OAuthClient implements driven.OAuthExchanger against the ERP token endpoint.
// Token calls bypass the API Transport: they are not counted against the
// resource rate limit and are never retried.
type OAuthClient struct {
	cfg        OAuthConfig
	httpClient *http.Client
}

// NewOAuthClient creates an OAuthClient. A nil httpClient gets a 30-second timeout.
func NewOAuthClient(cfg OAuthConfig, httpClient *http.Client) *OAuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthClient{cfg: cfg, httpClient: httpClient}
}

// tokenResponse is the JSON body returned by the token endpoint.
type tokenResponse struct {
	AccessToken      string      `json:"access_token"`
	RefreshToken     string      `json:"refresh_token"`
	TokenType        string      `json:"token_type"`
	ExpiresIn        json.Number `json:"expires_in"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
}

// ExchangeCode trades an authorization code for the first token pair.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (model.TokenGrant, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.cfg.RedirectURI},
	}
	grant, err := c.requestToken(ctx, form)
	if err != nil {
		return model.TokenGrant{}, fmt.Errorf("exchange authorization code: %w", err)
	}
	return grant, nil
}

// Refresh trades a refresh token for a new token pair. Failures wrap
// driven.ErrRefreshFailed.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (model.TokenGrant, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	grant, err := c.requestToken(ctx, form)
	if err != nil {
		return model.TokenGrant{}, fmt.Errorf("%w: %w", driven.ErrRefreshFailed, err)
	}
	return grant, nil
}

// AuthorizeURL builds the consent URL the operator is redirected to.
func (c *OAuthClient) AuthorizeURL(state string) string {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {c.cfg.ClientID},
		"state":         {state},
	}
	if c.cfg.RedirectURI != "" {
		q.Set("redirect_uri", c.cfg.RedirectURI)
	}

	sep := "?"
	if strings.Contains(c.cfg.AuthorizeURL, "?") {
		sep = "&"
	}
	return c.cfg.AuthorizeURL + sep + q.Encode()
}

func (c *OAuthClient) requestToken(ctx context.Context, form url.Values) (model.TokenGrant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return model.TokenGrant{}, fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.TokenGrant{}, fmt.Errorf("token endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.TokenGrant{}, fmt.Errorf("read token response: %w", err)
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(body, &tr)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && tr.Error != "" {
			return model.TokenGrant{}, fmt.Errorf("token endpoint returned %d: %s: %s", resp.StatusCode, tr.Error, tr.ErrorDescription)
		}
		return model.TokenGrant{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return model.TokenGrant{}, fmt.Errorf("decode token response: %w: %w", driven.ErrMalformedResponse, decodeErr)
	}

	if tr.AccessToken == "" {
		return model.TokenGrant{}, fmt.Errorf("token response has no access_token: %w", driven.ErrMalformedResponse)
	}
	seconds, err := tr.ExpiresIn.Int64()
	if err != nil || seconds <= 0 {
		return model.TokenGrant{}, fmt.Errorf("token response has invalid expires_in %q: %w", tr.ExpiresIn, driven.ErrMalformedResponse)
	}

	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return model.TokenGrant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tokenType,
		ExpiresIn:    time.Duration(seconds) * time.Second,
	}, nil
}
