// Package models defines the domain types shared across the discovery engine:
// retrieval configurations, execution records, discovered files and the
// messages exchanged over the bus.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Protocol identifies the transport used to reach a file source.
type Protocol string

const (
	ProtocolFTP       Protocol = "FTP"
	ProtocolHTTPS     Protocol = "HTTPS"
	ProtocolAzureBlob Protocol = "AzureBlob"
)

// Valid reports whether the protocol is one of the supported variants.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolFTP, ProtocolHTTPS, ProtocolAzureBlob:
		return true
	}
	return false
}

// HTTPSAuthType selects the authentication scheme for HTTPS sources.
type HTTPSAuthType string

const (
	HTTPSAuthNone             HTTPSAuthType = "None"
	HTTPSAuthUsernamePassword HTTPSAuthType = "UsernamePassword"
	HTTPSAuthBearerToken      HTTPSAuthType = "BearerToken"
	HTTPSAuthAPIKey           HTTPSAuthType = "ApiKey"
)

// AzureBlobAuthType selects the authentication scheme for Azure Blob sources.
type AzureBlobAuthType string

const (
	AzureBlobAuthManagedIdentity  AzureBlobAuthType = "ManagedIdentity"
	AzureBlobAuthConnectionString AzureBlobAuthType = "ConnectionString"
	AzureBlobAuthSasToken         AzureBlobAuthType = "SasToken"
)

// FTPSettings holds connection parameters for FTP and FTPS sources.
type FTPSettings struct {
	Server            string        `json:"server"`
	Port              int           `json:"port"`
	Username          string        `json:"username"`
	PasswordSecretRef string        `json:"passwordSecretRef"`
	UseTLS            bool          `json:"useTls"`
	UsePassiveMode    bool          `json:"usePassiveMode"`
	ConnectionTimeout time.Duration `json:"connectionTimeout,omitempty"`
}

// HTTPSSettings holds connection parameters for HTTPS sources.
type HTTPSSettings struct {
	BaseURL                  string        `json:"baseUrl"`
	AuthType                 HTTPSAuthType `json:"authType"`
	UsernameOrAPIKey         string        `json:"usernameOrApiKey,omitempty"`
	PasswordOrTokenSecretRef string        `json:"passwordOrTokenSecretRef,omitempty"`
	ConnectionTimeout        time.Duration `json:"connectionTimeout,omitempty"`
}

// AzureBlobSettings holds connection parameters for Azure Blob Storage sources.
type AzureBlobSettings struct {
	StorageAccountName        string            `json:"storageAccountName"`
	ContainerName             string            `json:"containerName"`
	BlobPrefix                string            `json:"blobPrefix,omitempty"`
	AuthType                  AzureBlobAuthType `json:"authType"`
	ConnectionStringSecretRef string            `json:"connectionStringSecretRef,omitempty"`
	SasTokenSecretRef         string            `json:"sasTokenSecretRef,omitempty"`
}

// ProtocolSettings is the tagged union of per-protocol connection parameters.
// Exactly one member must be set, and it must match the owning configuration's
// Protocol field.
type ProtocolSettings struct {
	FTP       *FTPSettings       `json:"ftp,omitempty"`
	HTTPS     *HTTPSSettings     `json:"https,omitempty"`
	AzureBlob *AzureBlobSettings `json:"azureBlob,omitempty"`
}

// variantCount returns how many members of the union are populated.
func (s ProtocolSettings) variantCount() int {
	n := 0
	if s.FTP != nil {
		n++
	}
	if s.HTTPS != nil {
		n++
	}
	if s.AzureBlob != nil {
		n++
	}
	return n
}

// Matches reports whether the populated variant corresponds to the protocol.
func (s ProtocolSettings) Matches(p Protocol) bool {
	if s.variantCount() != 1 {
		return false
	}
	switch p {
	case ProtocolFTP:
		return s.FTP != nil
	case ProtocolHTTPS:
		return s.HTTPS != nil
	case ProtocolAzureBlob:
		return s.AzureBlob != nil
	}
	return false
}

// EventDefinition describes one event to publish for every discovered file.
type EventDefinition struct {
	EventType string            `json:"eventType"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// CommandDefinition describes one command to send for every discovered file.
type CommandDefinition struct {
	CommandType    string            `json:"commandType"`
	TargetEndpoint string            `json:"targetEndpoint,omitempty"`
	Payload        map[string]string `json:"payload,omitempty"`
}

// RetrievalConfiguration declares where, when and what to look for on behalf
// of a tenant. Identified by (TenantID, ConfigID); Name is unique per tenant.
type RetrievalConfiguration struct {
	TenantID         string              `json:"tenantId"`
	ConfigID         string              `json:"configId"`
	Name             string              `json:"name"`
	Protocol         Protocol            `json:"protocol"`
	Settings         ProtocolSettings    `json:"protocolSettings"`
	FilePathPattern  string              `json:"filePathPattern"`
	FilenamePattern  string              `json:"filenamePattern"`
	FileExtension    string              `json:"fileExtension,omitempty"`
	CronExpression   string              `json:"cronExpression"`
	Timezone         string              `json:"timezone"`
	IsActive         bool                `json:"isActive"`
	Events           []EventDefinition   `json:"events,omitempty"`
	Commands         []CommandDefinition `json:"commands,omitempty"`
	Version          int64               `json:"version"`
	CreatedUtc       time.Time           `json:"createdUtc"`
	UpdatedUtc       time.Time           `json:"updatedUtc"`
	CreatedBy        string              `json:"createdBy,omitempty"`
	UpdatedBy        string              `json:"updatedBy,omitempty"`
}

// Key returns the (tenantId, configId) identity as a single map key.
func (c *RetrievalConfiguration) Key() string {
	return ConfigKey(c.TenantID, c.ConfigID)
}

// ConfigKey builds the canonical tenant:config identity string.
func ConfigKey(tenantID, configID string) string {
	return tenantID + ":" + configID
}

// ExecutionStatus is the lifecycle state of a retrieval execution.
type ExecutionStatus string

const (
	ExecutionInProgress ExecutionStatus = "InProgress"
	ExecutionCompleted  ExecutionStatus = "Completed"
	ExecutionFailed     ExecutionStatus = "Failed"
)

// RetrievalExecution records one scheduled or manual file check.
// Immutable after reaching a terminal status, except the FilesProcessed
// counter maintained by the discovery pipeline.
type RetrievalExecution struct {
	ExecutionID             string          `json:"executionId"`
	TenantID                string          `json:"tenantId"`
	ConfigID                string          `json:"configId"`
	ResolvedFilePathPattern string          `json:"resolvedFilePathPattern"`
	ResolvedFilenamePattern string          `json:"resolvedFilenamePattern"`
	StartedUtc              time.Time       `json:"startedUtc"`
	CompletedUtc            *time.Time      `json:"completedUtc,omitempty"`
	Status                  ExecutionStatus `json:"status"`
	FilesFound              int             `json:"filesFound"`
	FilesProcessed          int             `json:"filesProcessed"`
	RetryCount              int             `json:"retryCount"`
	ErrorCategory           string          `json:"errorCategory,omitempty"`
	ErrorMessage            string          `json:"errorMessage,omitempty"`
	DurationMs              int64           `json:"durationMs"`
}

// DiscoveredFileStatus is the lifecycle state of a discovered file record.
type DiscoveredFileStatus string

const (
	FileDiscoveredStatus DiscoveredFileStatus = "Discovered"
	FileEventPublished   DiscoveredFileStatus = "EventPublished"
	FileFailed           DiscoveredFileStatus = "Failed"
)

// DiscoveredFile records one uniquely discovered file per discovery date.
// At most one row may exist per (tenantId, configId, fileUrl, discoveryDate).
type DiscoveredFile struct {
	DiscoveredFileID string               `json:"discoveredFileId"`
	TenantID         string               `json:"tenantId"`
	ConfigID         string               `json:"configId"`
	ExecutionID      string               `json:"executionId"`
	FileURL          string               `json:"fileUrl"`
	Filename         string               `json:"filename"`
	FileSize         *int64               `json:"fileSize,omitempty"`
	LastModified     *time.Time           `json:"lastModified,omitempty"`
	DiscoveredAt     time.Time            `json:"discoveredAt"`
	DiscoveryDate    string               `json:"discoveryDate"`
	Status           DiscoveredFileStatus `json:"status"`
	EventPublishedAt *time.Time           `json:"eventPublishedAt,omitempty"`
}

// DiscoveryDateOf formats the date-only portion of an instant in UTC, which
// anchors the per-day idempotency key.
func DiscoveryDateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DiscoveryKey builds the idempotency key that uniquely identifies one file
// discovery: "{tenantId}:{configId}:{fileUrl}:{discoveryDate}".
func DiscoveryKey(tenantID, configID, fileURL, discoveryDate string) string {
	return fmt.Sprintf("%s:%s:%s:%s", tenantID, configID, fileURL, discoveryDate)
}

// CommandKey suffixes a discovery key for the directed command leg of the flow.
func CommandKey(discoveryKey string) string {
	return discoveryKey + ":cmd"
}

// Validate checks the structural invariants that do not require external
// collaborators: identity fields, protocol/settings agreement and required
// per-variant fields. Cron, timezone and token placement are validated by the
// scheduler and pattern packages respectively.
func (c *RetrievalConfiguration) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("tenantId is required")
	}
	if strings.TrimSpace(c.ConfigID) == "" {
		return fmt.Errorf("configId is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !c.Protocol.Valid() {
		return fmt.Errorf("unknown protocol %q", c.Protocol)
	}
	if !c.Settings.Matches(c.Protocol) {
		return fmt.Errorf("protocol settings variant does not match protocol %s", c.Protocol)
	}
	switch c.Protocol {
	case ProtocolFTP:
		ftp := c.Settings.FTP
		if strings.TrimSpace(ftp.Server) == "" {
			return fmt.Errorf("ftp server is required")
		}
		if strings.Contains(ftp.Server, "://") {
			return fmt.Errorf("ftp server must be a bare host, not a URL")
		}
		if ftp.Port < 0 || ftp.Port > 65535 {
			return fmt.Errorf("ftp port %d out of range", ftp.Port)
		}
		if strings.TrimSpace(ftp.Username) == "" {
			return fmt.Errorf("ftp username is required")
		}
		if strings.TrimSpace(ftp.PasswordSecretRef) == "" {
			return fmt.Errorf("ftp passwordSecretRef is required")
		}
	case ProtocolHTTPS:
		h := c.Settings.HTTPS
		if strings.TrimSpace(h.BaseURL) == "" {
			return fmt.Errorf("https baseUrl is required")
		}
		switch h.AuthType {
		case HTTPSAuthNone:
		case HTTPSAuthUsernamePassword, HTTPSAuthBearerToken, HTTPSAuthAPIKey:
			// Bearer tokens and API keys are carried entirely by the resolved
			// secret; only basic auth needs the username field.
			if strings.TrimSpace(h.PasswordOrTokenSecretRef) == "" {
				return fmt.Errorf("https passwordOrTokenSecretRef is required for auth type %s", h.AuthType)
			}
			if h.AuthType == HTTPSAuthUsernamePassword && strings.TrimSpace(h.UsernameOrAPIKey) == "" {
				return fmt.Errorf("https usernameOrApiKey is required for auth type %s", h.AuthType)
			}
		default:
			return fmt.Errorf("unknown https auth type %q", h.AuthType)
		}
	case ProtocolAzureBlob:
		az := c.Settings.AzureBlob
		if strings.TrimSpace(az.StorageAccountName) == "" {
			return fmt.Errorf("azure storageAccountName is required")
		}
		if strings.TrimSpace(az.ContainerName) == "" {
			return fmt.Errorf("azure containerName is required")
		}
		switch az.AuthType {
		case AzureBlobAuthManagedIdentity, "":
		case AzureBlobAuthConnectionString:
			if strings.TrimSpace(az.ConnectionStringSecretRef) == "" {
				return fmt.Errorf("azure connectionStringSecretRef is required for auth type %s", az.AuthType)
			}
		case AzureBlobAuthSasToken:
			if strings.TrimSpace(az.SasTokenSecretRef) == "" {
				return fmt.Errorf("azure sasTokenSecretRef is required for auth type %s", az.AuthType)
			}
		default:
			return fmt.Errorf("unknown azure auth type %q", az.AuthType)
		}
	}
	if strings.TrimSpace(c.CronExpression) == "" {
		return fmt.Errorf("cronExpression is required")
	}
	if strings.TrimSpace(c.Timezone) == "" {
		return fmt.Errorf("timezone is required")
	}
	return nil
}
