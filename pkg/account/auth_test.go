package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/nest-nexus-bridge/pkg/config"
)

func TestFederatedAuthorizeChain(t *testing.T) {
	var issueTokenCookie, jwtAuthorization, sessionAuthorization string

	issueToken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issueTokenCookie = r.Header.Get("Cookie")
		assert.Equal(t, googleReferer, r.Header.Get("Referer"))
		json.NewEncoder(w).Encode(map[string]string{"access_token": "A", "token_type": "Bearer"})
	}))
	defer issueToken.Close()

	issueJWT := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwtAuthorization = r.Header.Get("Authorization")
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "A", r.Form.Get("google_oauth_access_token"))
		assert.Equal(t, "authproxy-oauth-policy", r.Form.Get("policy_id"))
		json.NewEncoder(w).Encode(map[string]any{
			"jwt":    "J",
			"claims": map[string]string{"expirationTime": "2030-01-01T00:00:00Z"},
		})
	}))
	defer issueJWT.Close()

	session := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionAuthorization = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"userid": "U",
			"urls":   map[string]string{"transport_url": "tx", "weather_url": "wx"},
		})
	}))
	defer session.Close()

	conn := NewConnection(config.Account{
		Kind:       config.AccountFederated,
		IssueToken: issueToken.URL,
		Cookie:     "C",
	}, false)
	conn.Endpoints.IssueToken = issueToken.URL
	conn.Endpoints.IssueJWT = issueJWT.URL
	conn.Endpoints.Session = session.URL

	require.NoError(t, conn.Authorize(context.Background(), http.DefaultClient))

	assert.Equal(t, "C", issueTokenCookie)
	assert.Equal(t, "Bearer A", jwtAuthorization)
	assert.Equal(t, "Basic J", sessionAuthorization)

	assert.True(t, conn.Authorized())
	assert.Equal(t, "J", conn.Bearer())
	assert.Equal(t, "U", conn.UserID())
	assert.Equal(t, "tx", conn.TransportURL())
	assert.Equal(t, "wx", conn.WeatherURL())

	cred := conn.CameraCredential()
	assert.Equal(t, "Authorization", cred.Key)
	assert.Equal(t, "Basic ", cred.Value)
	assert.Equal(t, "J", cred.Token)

	assert.True(t, conn.RefreshDeadline().After(time.Now()), "refresh is scheduled in the future")
}

func TestNativeAuthorizeChain(t *testing.T) {
	login := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "configured-token", r.Form.Get("access_token"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{{"session_token": "S"}},
		})
	}))
	defer login.Close()

	session := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Basic configured-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"userid": "U2",
			"urls":   map[string]string{"transport_url": "tx2", "weather_url": "wx2"},
		})
	}))
	defer session.Close()

	conn := NewConnection(config.Account{
		Kind:        config.AccountNative,
		AccessToken: "configured-token",
	}, false)
	conn.Endpoints.LoginNest = login.URL
	conn.Endpoints.Session = session.URL

	require.NoError(t, conn.Authorize(context.Background(), http.DefaultClient))

	assert.Equal(t, "configured-token", conn.Bearer())
	cred := conn.CameraCredential()
	assert.Equal(t, "Cookie", cred.Key)
	assert.Equal(t, "website_2=", cred.Value)
	assert.Equal(t, "S", cred.Token)

	horizon := time.Until(conn.RefreshDeadline())
	assert.InDelta(t, nativeRefreshHorizon.Seconds(), horizon.Seconds(), 60)
}

func TestAuthorizeFailureLeavesUnauthorized(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer broken.Close()

	conn := NewConnection(config.Account{
		Kind:        config.AccountNative,
		AccessToken: "configured-token",
	}, false)
	conn.Endpoints.LoginNest = broken.URL
	conn.Endpoints.Session = broken.URL

	err := conn.Authorize(context.Background(), http.DefaultClient)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthFailed))
	assert.False(t, conn.Authorized())
}

func TestFieldTestHostSwap(t *testing.T) {
	prod := NewConnection(config.Account{Kind: config.AccountNative, AccessToken: "t"}, false)
	assert.Equal(t, "home.nest.com", prod.RESTHost)
	assert.Equal(t, "camera.home.nest.com", prod.CameraHost)
	assert.Equal(t, "grpc-web.production.nest.com", prod.TraitHost)

	ft := NewConnection(config.Account{Kind: config.AccountNative, AccessToken: "t"}, true)
	assert.Equal(t, "home.ft.nest.com", ft.RESTHost)
	assert.Equal(t, "camera.home.ft.nest.com", ft.CameraHost)
	assert.Equal(t, "grpc-web.ft.nest.com", ft.TraitHost)
	assert.Contains(t, ft.Endpoints.LoginNest, "webapi.camera.home.ft.nest.com")
}

func TestManagerAuthorizeAllContinuesPastFailures(t *testing.T) {
	session := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"userid": "U",
			"urls":   map[string]string{"transport_url": "tx", "weather_url": "wx"},
		})
	}))
	defer session.Close()
	login := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{{"session_token": "S"}},
		})
	}))
	defer login.Close()

	m := NewManager(&config.Config{
		Accounts: []config.Account{
			{Kind: config.AccountNative, AccessToken: "good"},
			{Kind: config.AccountFederated, IssueToken: "http://127.0.0.1:1/issuetoken", Cookie: "c"},
		},
	}, nil)
	defer m.Close()

	conns := m.Connections()
	require.Len(t, conns, 2)
	conns[0].Endpoints.LoginNest = login.URL
	conns[0].Endpoints.Session = session.URL

	err := m.AuthorizeAll(context.Background())
	require.Error(t, err, "the federated chain cannot reach its endpoint")
	assert.True(t, conns[0].Authorized(), "the native connection still authorized")
	assert.False(t, conns[1].Authorized())
}
