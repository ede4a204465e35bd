// Package account manages the backend connections: one Connection per
// configured account, each with its own authorization chain and refresh
// schedule. Native and federated accounts authorize differently but produce
// the same Connection surface for the subscribers.
package account

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ethan/nest-nexus-bridge/pkg/config"
)

// Production hosts and their field-test equivalents
const (
	restHostProduction  = "home.nest.com"
	restHostFieldTest   = "home.ft.nest.com"
	cameraHostProd      = "camera.home.nest.com"
	cameraHostFieldTest = "camera.home.ft.nest.com"
	traitHostProduction = "grpc-web.production.nest.com"
	traitHostFieldTest  = "grpc-web.ft.nest.com"
)

// userAgent is sent on every HTTP request
const userAgent = "iPhone iPhone OS 17.4.1"

// Credential is the camera-API credential attached to webapi requests.
// Federated accounts use an Authorization header, native accounts a session
// cookie.
type Credential struct {
	Key   string // Header or cookie name
	Value string // Prefix ("Basic " or cookie name with =)
	Token string
}

// Endpoints are the absolute URLs of the authorization chain. Defaults are
// derived from the connection hosts; tests point them at httptest servers.
type Endpoints struct {
	IssueToken string // Federated: configured issue-token URL
	IssueJWT   string // Federated: fixed Google JWT proxy
	Session    string // Both kinds: session exchange
	LoginNest  string // Native: session token exchange
}

// Connection is one account backend: stable identity, hosts, and the
// rotating authorization state.
type Connection struct {
	ID         string
	Kind       config.AccountKind
	RESTHost   string
	CameraHost string
	TraitHost  string
	Endpoints  Endpoints

	// Configured credentials
	AccessToken string // Native
	IssueToken  string // Federated
	Cookie      string // Federated
	FieldTest   bool

	mu              sync.RWMutex
	authorized      bool
	bearer          string
	refreshDeadline time.Time
	userID          string
	transportURL    string
	weatherURL      string
	credential      Credential
}

// NewConnection builds a connection from one configured account. Field test
// swaps every host for its ft. equivalent.
func NewConnection(acct config.Account, fieldTest bool) *Connection {
	restHost := restHostProduction
	cameraHost := cameraHostProd
	traitHost := traitHostProduction
	if fieldTest {
		restHost = restHostFieldTest
		cameraHost = cameraHostFieldTest
		traitHost = traitHostFieldTest
	}

	c := &Connection{
		ID:          uuid.NewString(),
		Kind:        acct.Kind,
		RESTHost:    restHost,
		CameraHost:  cameraHost,
		TraitHost:   traitHost,
		AccessToken: acct.AccessToken,
		IssueToken:  acct.IssueToken,
		Cookie:      acct.Cookie,
		FieldTest:   fieldTest,
	}
	c.Endpoints = Endpoints{
		IssueToken: acct.IssueToken,
		IssueJWT:   "https://nestauthproxyservice-pa.googleapis.com/v1/issue_jwt",
		Session:    "https://" + restHost + "/session",
		LoginNest:  "https://webapi." + cameraHost + "/api/v1/login.login_nest",
	}
	return c
}

// Authorized reports whether the last authorization chain succeeded
func (c *Connection) Authorized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authorized
}

// Bearer returns the current bearer token. Refresh publishes the new token
// atomically; in-flight requests may still carry the old one.
func (c *Connection) Bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearer
}

// UserID returns the backend user id learned from the session exchange
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// TransportURL returns the subscribe/put base URL
func (c *Connection) TransportURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transportURL
}

// WeatherURL returns the weather service base URL
func (c *Connection) WeatherURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.weatherURL
}

// CameraCredential returns the webapi credential triple
func (c *Connection) CameraCredential() Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credential
}

// RefreshDeadline returns when the current bearer expires
func (c *Connection) RefreshDeadline() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshDeadline
}

// Referer is the per-account referer header value
func (c *Connection) Referer() string {
	return "https://" + c.RESTHost
}

// setSession publishes the result of a successful authorization chain
func (c *Connection) setSession(bearer, userID, transportURL, weatherURL string, cred Credential, deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorized = true
	c.bearer = bearer
	c.userID = userID
	c.transportURL = transportURL
	c.weatherURL = weatherURL
	c.credential = cred
	c.refreshDeadline = deadline
}

// markUnauthorized records a failed chain without touching the previous
// session fields
func (c *Connection) markUnauthorized() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorized = false
}
