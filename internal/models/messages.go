package models

import "time"

// Message kinds routed over the bus. Events are broadcast; commands are
// directed at a single consumer.
const (
	KindFileDiscovered        = "FileDiscovered"
	KindProcessDiscoveredFile = "ProcessDiscoveredFile"
	KindExecuteFileCheck      = "ExecuteFileCheck"
	KindConfigurationChanged  = "ConfigurationChanged"
)

// Envelope carries the fields common to every message in the flow.
type Envelope struct {
	MessageID      string    `json:"messageId"`
	CorrelationID  string    `json:"correlationId"`
	OccurredUtc    time.Time `json:"occurredUtc"`
	IdempotencyKey string    `json:"idempotencyKey"`
	TenantID       string    `json:"tenantId"`
	ConfigID       string    `json:"configId"`
	ExecutionID    string    `json:"executionId,omitempty"`
}

// FileDiscovered is broadcast once per newly discovered file, per event
// definition on the owning configuration.
type FileDiscovered struct {
	Envelope
	DiscoveredFileID  string            `json:"discoveredFileId"`
	FileURL           string            `json:"fileUrl"`
	Filename          string            `json:"filename"`
	FileSize          *int64            `json:"fileSize,omitempty"`
	LastModified      *time.Time        `json:"lastModified,omitempty"`
	DiscoveredAt      time.Time         `json:"discoveredAt"`
	ConfigurationName string            `json:"configurationName"`
	Protocol          Protocol          `json:"protocol"`
	EventType         string            `json:"eventType"`
	EventData         map[string]string `json:"eventData,omitempty"`
}

// ProcessDiscoveredFile is sent once per newly discovered file, per command
// definition on the owning configuration, directed at TargetEndpoint.
type ProcessDiscoveredFile struct {
	Envelope
	DiscoveredFileID  string            `json:"discoveredFileId"`
	FileURL           string            `json:"fileUrl"`
	Filename          string            `json:"filename"`
	FileSize          *int64            `json:"fileSize,omitempty"`
	LastModified      *time.Time        `json:"lastModified,omitempty"`
	DiscoveredAt      time.Time         `json:"discoveredAt"`
	ConfigurationName string            `json:"configurationName"`
	Protocol          Protocol          `json:"protocol"`
	CommandType       string            `json:"commandType"`
	CommandData       map[string]string `json:"commandData,omitempty"`
	TargetEndpoint    string            `json:"targetEndpoint,omitempty"`
}

// ExecuteFileCheck instructs the engine to run one file check for a
// configuration at the given scheduled instant. ExecutionID is set only for
// manual re-runs that want a predetermined identifier.
type ExecuteFileCheck struct {
	Envelope
	ScheduledInstantUtc time.Time `json:"scheduledInstantUtc"`
}

// ConfigurationChangeKind discriminates configuration lifecycle events.
type ConfigurationChangeKind string

const (
	ConfigurationCreated ConfigurationChangeKind = "Created"
	ConfigurationUpdated ConfigurationChangeKind = "Updated"
	ConfigurationDeleted ConfigurationChangeKind = "Deleted"
)

// ConfigurationChanged notifies the scheduler of configuration CRUD. It
// carries enough to rebuild the cron entry without a repository round-trip.
type ConfigurationChanged struct {
	Envelope
	Kind           ConfigurationChangeKind `json:"kind"`
	CronExpression string                  `json:"cronExpression,omitempty"`
	Timezone       string                  `json:"timezone,omitempty"`
	IsActive       bool                    `json:"isActive"`
	ChangedFields  []string                `json:"changedFields,omitempty"`
}
