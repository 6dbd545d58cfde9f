package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validHTTPSConfig() RetrievalConfiguration {
	return RetrievalConfiguration{
		TenantID: "t1",
		ConfigID: "c1",
		Name:     "daily-reports",
		Protocol: ProtocolHTTPS,
		Settings: ProtocolSettings{
			HTTPS: &HTTPSSettings{
				BaseURL:  "https://files.example.com",
				AuthType: HTTPSAuthNone,
			},
		},
		FilePathPattern: "/reports/{yyyy}/{mm}-{dd}.csv",
		FilenamePattern: "*",
		CronExpression:  "0 8 * * *",
		Timezone:        "America/New_York",
		IsActive:        true,
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid https", func(t *testing.T) {
		cfg := validHTTPSConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("variant mismatch", func(t *testing.T) {
		cfg := validHTTPSConfig()
		cfg.Protocol = ProtocolFTP
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match protocol")
	})

	t.Run("two variants set", func(t *testing.T) {
		cfg := validHTTPSConfig()
		cfg.Settings.FTP = &FTPSettings{}
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown protocol", func(t *testing.T) {
		cfg := validHTTPSConfig()
		cfg.Protocol = "SFTP"
		assert.Error(t, cfg.Validate())
	})

	t.Run("ftp requires bare host", func(t *testing.T) {
		cfg := validHTTPSConfig()
		cfg.Protocol = ProtocolFTP
		cfg.Settings = ProtocolSettings{FTP: &FTPSettings{
			Server:            "ftp://ftp.example.com",
			Username:          "u",
			PasswordSecretRef: "ref",
		}}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bare host")
	})

	t.Run("ftp missing secret ref", func(t *testing.T) {
		cfg := validHTTPSConfig()
		cfg.Protocol = ProtocolFTP
		cfg.Settings = ProtocolSettings{FTP: &FTPSettings{
			Server:   "ftp.example.com",
			Username: "u",
		}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("https basic auth requires username and secret", func(t *testing.T) {
		cfg := validHTTPSConfig()
		cfg.Settings.HTTPS.AuthType = HTTPSAuthUsernamePassword
		assert.Error(t, cfg.Validate())

		cfg.Settings.HTTPS.PasswordOrTokenSecretRef = "ref"
		assert.Error(t, cfg.Validate())

		cfg.Settings.HTTPS.UsernameOrAPIKey = "user"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("https bearer needs only secret", func(t *testing.T) {
		cfg := validHTTPSConfig()
		cfg.Settings.HTTPS.AuthType = HTTPSAuthBearerToken
		cfg.Settings.HTTPS.PasswordOrTokenSecretRef = "ref"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("https api key needs only secret", func(t *testing.T) {
		cfg := validHTTPSConfig()
		cfg.Settings.HTTPS.AuthType = HTTPSAuthAPIKey
		assert.Error(t, cfg.Validate())

		// The resolved secret is the key itself, sent as X-API-Key.
		cfg.Settings.HTTPS.PasswordOrTokenSecretRef = "ref"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("azure sas requires secret ref", func(t *testing.T) {
		cfg := validHTTPSConfig()
		cfg.Protocol = ProtocolAzureBlob
		cfg.Settings = ProtocolSettings{AzureBlob: &AzureBlobSettings{
			StorageAccountName: "acct",
			ContainerName:      "inbound",
			AuthType:           AzureBlobAuthSasToken,
		}}
		assert.Error(t, cfg.Validate())

		cfg.Settings.AzureBlob.SasTokenSecretRef = "ref"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing cron", func(t *testing.T) {
		cfg := validHTTPSConfig()
		cfg.CronExpression = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestDiscoveryKeys(t *testing.T) {
	date := DiscoveryDateOf(time.Date(2025, 1, 24, 13, 0, 0, 0, time.UTC))
	assert.Equal(t, "2025-01-24", date)

	key := DiscoveryKey("T1", "C1", "https://x/reports/2025/01-24.csv", date)
	assert.Equal(t, "T1:C1:https://x/reports/2025/01-24.csv:2025-01-24", key)
	assert.Equal(t, key+":cmd", CommandKey(key))
}

func TestDiscoveryDateUsesUTC(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 23:30 New York on Jan 24 is already Jan 25 in UTC.
	late := time.Date(2025, 1, 24, 23, 30, 0, 0, ny)
	assert.Equal(t, "2025-01-25", DiscoveryDateOf(late))
}
