package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
)

// AccountKind selects the authorization flow for a connection
type AccountKind string

const (
	AccountNative    AccountKind = "native"
	AccountFederated AccountKind = "federated"
)

// Account holds the credentials for one backend connection
type Account struct {
	Kind AccountKind

	// Native accounts
	AccessToken string

	// Federated accounts
	IssueToken string
	Cookie     string
}

// Config holds all credentials and configuration for the bridge
type Config struct {
	Accounts    []Account
	FieldTest   bool
	Excluded    map[string]bool // Uppercase serial numbers excluded from projection
	ResourceDir string          // Directory with camera_offline/camera_off/camera_connecting frames
}

// Load reads configuration from a .env-style file
//
// Accounts are numbered:
//
//	account.1.kind=native
//	account.1.access_token=...
//	account.2.kind=federated
//	account.2.issue_token=https://...
//	account.2.cookie=...
func Load(envPath string) (*Config, error) {
	file, err := os.Open(envPath)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer file.Close()

	cfg := &Config{Excluded: make(map[string]bool)}
	accounts := make(map[int]*Account)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// URL decode values that might be encoded
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}

		if strings.HasPrefix(key, "account.") {
			if err := applyAccountKey(accounts, key, decodedValue); err != nil {
				return nil, err
			}
			continue
		}

		switch key {
		case "field_test":
			cfg.FieldTest = decodedValue == "true" || decodedValue == "1"
		case "exclude":
			for _, serial := range strings.Split(decodedValue, ",") {
				serial = strings.ToUpper(strings.TrimSpace(serial))
				if serial != "" {
					cfg.Excluded[serial] = true
				}
			}
		case "resource_dir":
			cfg.ResourceDir = decodedValue
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan env file: %w", err)
	}

	// Stable account ordering by index
	indices := make([]int, 0, len(accounts))
	for idx := range accounts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		cfg.Accounts = append(cfg.Accounts, *accounts[idx])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyAccountKey parses "account.<n>.<field>" keys into the account map
func applyAccountKey(accounts map[int]*Account, key, value string) error {
	rest := strings.TrimPrefix(key, "account.")
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed account key: %s", key)
	}

	idx, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("malformed account index in %s: %w", key, err)
	}

	acct := accounts[idx]
	if acct == nil {
		acct = &Account{}
		accounts[idx] = acct
	}

	switch parts[1] {
	case "kind":
		acct.Kind = AccountKind(value)
	case "access_token":
		acct.AccessToken = value
	case "issue_token":
		acct.IssueToken = value
	case "cookie":
		acct.Cookie = value
	default:
		return fmt.Errorf("unknown account field: %s", key)
	}
	return nil
}

// Validate checks that all required configuration fields are present
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}
	for i, acct := range c.Accounts {
		switch acct.Kind {
		case AccountNative:
			if acct.AccessToken == "" {
				return fmt.Errorf("account %d: missing access_token", i+1)
			}
		case AccountFederated:
			if acct.IssueToken == "" {
				return fmt.Errorf("account %d: missing issue_token", i+1)
			}
			if acct.Cookie == "" {
				return fmt.Errorf("account %d: missing cookie", i+1)
			}
		default:
			return fmt.Errorf("account %d: invalid kind %q (must be native or federated)", i+1, acct.Kind)
		}
	}
	return nil
}
