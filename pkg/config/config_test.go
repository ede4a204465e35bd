package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoadMixedAccounts(t *testing.T) {
	path := writeEnv(t, `
# bridge credentials
account.1.kind=native
account.1.access_token=tok-native

account.2.kind=federated
account.2.issue_token=https://accounts.google.com/o/oauth2/iframerpc?issueTokenParams
account.2.cookie=OCAK=abc

field_test=false
exclude=09aa01ac,18b4300000f1
resource_dir=/opt/bridge/res
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, AccountNative, cfg.Accounts[0].Kind)
	assert.Equal(t, "tok-native", cfg.Accounts[0].AccessToken)
	assert.Equal(t, AccountFederated, cfg.Accounts[1].Kind)
	assert.Equal(t, "OCAK=abc", cfg.Accounts[1].Cookie)

	assert.False(t, cfg.FieldTest)
	assert.True(t, cfg.Excluded["09AA01AC"])
	assert.True(t, cfg.Excluded["18B4300000F1"])
	assert.Equal(t, "/opt/bridge/res", cfg.ResourceDir)
}

func TestLoadRejectsIncompleteAccount(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{
			name:     "native without access token",
			contents: "account.1.kind=native\n",
		},
		{
			name:     "federated without cookie",
			contents: "account.1.kind=federated\naccount.1.issue_token=https://x\n",
		},
		{
			name:     "unknown kind",
			contents: "account.1.kind=oauth\naccount.1.access_token=x\n",
		},
		{
			name:     "no accounts",
			contents: "field_test=true\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeEnv(t, tt.contents))
			assert.Error(t, err)
		})
	}
}

func TestLoadAccountOrderingStable(t *testing.T) {
	path := writeEnv(t, `
account.2.kind=federated
account.2.issue_token=https://x
account.2.cookie=c
account.1.kind=native
account.1.access_token=a
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, AccountNative, cfg.Accounts[0].Kind)
	assert.Equal(t, AccountFederated, cfg.Accounts[1].Kind)
}
