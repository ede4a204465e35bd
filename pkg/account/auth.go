package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethan/nest-nexus-bridge/pkg/config"
	"github.com/ethan/nest-nexus-bridge/pkg/metrics"
)

// ErrAuthFailed is returned for any failure in an authorization chain. The
// chain does not retry internally; the caller decides.
var ErrAuthFailed = errors.New("authorization failed")

const (
	googleReferer = "https://accounts.google.com/o/oauth2/iframe"

	// Native accounts have no advertised expiry; refresh daily
	nativeRefreshHorizon = 24 * time.Hour

	authRequestTimeout = 15 * time.Second
)

type issueTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type issueJWTResponse struct {
	JWT    string `json:"jwt"`
	Claims struct {
		ExpirationTime string `json:"expirationTime"`
	} `json:"claims"`
}

type sessionResponse struct {
	UserID string `json:"userid"`
	URLs   struct {
		TransportURL string `json:"transport_url"`
		WeatherURL   string `json:"weather_url"`
	} `json:"urls"`
}

type loginNestResponse struct {
	Items []struct {
		SessionToken string `json:"session_token"`
	} `json:"items"`
}

// Authorize runs the account-kind-specific chain. On failure the connection
// is left unauthorized and a single ErrAuthFailed surfaces.
func (c *Connection) Authorize(ctx context.Context, client *http.Client) error {
	var err error
	switch c.Kind {
	case config.AccountFederated:
		err = c.authorizeFederated(ctx, client)
	default:
		err = c.authorizeNative(ctx, client)
	}
	if err != nil {
		c.markUnauthorized()
		metrics.AuthRefreshes.WithLabelValues(string(c.Kind), "error").Inc()
		return err
	}
	metrics.AuthRefreshes.WithLabelValues(string(c.Kind), "ok").Inc()
	return nil
}

// authorizeFederated runs the Google chain: issue-token cookie exchange,
// JWT issuance, then the session exchange.
func (c *Connection) authorizeFederated(ctx context.Context, client *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoints.IssueToken, nil)
	if err != nil {
		return fmt.Errorf("%w: issue token request: %v", ErrAuthFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cookie", c.Cookie)
	req.Header.Set("Referer", googleReferer)

	var issued issueTokenResponse
	if err := doJSON(client, req, &issued); err != nil {
		return fmt.Errorf("%w: issue token: %v", ErrAuthFailed, err)
	}
	if issued.AccessToken == "" {
		return fmt.Errorf("%w: issue token: empty access token", ErrAuthFailed)
	}

	form := url.Values{
		"embed_google_oauth_access_token": {"true"},
		"expire_after":                    {"3600s"},
		"google_oauth_access_token":       {issued.AccessToken},
		"policy_id":                       {"authproxy-oauth-policy"},
	}
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoints.IssueJWT, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: jwt request: %v", ErrAuthFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", issued.TokenType+" "+issued.AccessToken)
	req.Header.Set("Referer", c.Referer())

	var jwt issueJWTResponse
	if err := doJSON(client, req, &jwt); err != nil {
		return fmt.Errorf("%w: issue jwt: %v", ErrAuthFailed, err)
	}
	if jwt.JWT == "" {
		return fmt.Errorf("%w: issue jwt: empty jwt", ErrAuthFailed)
	}
	expiry, err := time.Parse(time.RFC3339, jwt.Claims.ExpirationTime)
	if err != nil {
		return fmt.Errorf("%w: jwt expiry %q: %v", ErrAuthFailed, jwt.Claims.ExpirationTime, err)
	}

	session, err := c.fetchSession(ctx, client, "Basic "+jwt.JWT)
	if err != nil {
		return err
	}

	cred := Credential{Key: "Authorization", Value: "Basic ", Token: jwt.JWT}
	c.setSession(jwt.JWT, session.UserID, session.URLs.TransportURL, session.URLs.WeatherURL, cred, expiry)
	return nil
}

// authorizeNative exchanges the configured access token for a camera session
// token, then runs the session exchange.
func (c *Connection) authorizeNative(ctx context.Context, client *http.Client) error {
	form := url.Values{"access_token": {c.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoints.LoginNest, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: login request: %v", ErrAuthFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.Referer())

	var login loginNestResponse
	if err := doJSON(client, req, &login); err != nil {
		return fmt.Errorf("%w: login_nest: %v", ErrAuthFailed, err)
	}
	if len(login.Items) == 0 || login.Items[0].SessionToken == "" {
		return fmt.Errorf("%w: login_nest: no session token", ErrAuthFailed)
	}

	session, err := c.fetchSession(ctx, client, "Basic "+c.AccessToken)
	if err != nil {
		return err
	}

	cookieName := "website_2="
	if c.FieldTest {
		cookieName = "website_ft="
	}
	cred := Credential{Key: "Cookie", Value: cookieName, Token: login.Items[0].SessionToken}
	c.setSession(c.AccessToken, session.UserID, session.URLs.TransportURL, session.URLs.WeatherURL, cred,
		time.Now().Add(nativeRefreshHorizon))
	return nil
}

// fetchSession runs the common /session exchange
func (c *Connection) fetchSession(ctx context.Context, client *http.Client, authorization string) (*sessionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoints.Session, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: session request: %v", ErrAuthFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Referer", c.Referer())

	var session sessionResponse
	if err := doJSON(client, req, &session); err != nil {
		return nil, fmt.Errorf("%w: session: %v", ErrAuthFailed, err)
	}
	if session.UserID == "" {
		return nil, fmt.Errorf("%w: session: empty userid", ErrAuthFailed)
	}
	return &session, nil
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
