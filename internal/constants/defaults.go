package constants

// Default retry and fallback configuration values
const (
	DefaultMaxRetryAttempts      = 3
	DefaultRetryBaseDelayMs      = 1000
	DefaultRetryMaxDelayMs       = 30000
	DefaultRetryMaxJitterMs      = 1000
	DefaultMaxFallbackIdentities = 3
)

// Default dispatch queue values
const (
	DefaultQueueStream        = "dispatch:events"
	DefaultQueueGroup         = "dispatchd"
	DefaultQueueReadCount     = 10
	DefaultQueueReadBlockMs   = 5000
	DefaultQueueClaimIdleMs   = 60000
	DefaultQueueClaimEveryMs  = 30000
	DefaultQueuePendingLookup = 1000
	DefaultWorkerCount        = 4
)

// Default recovery sweeper values
const (
	DefaultSweepIntervalMs        = 60000
	DefaultSweepBatchSize         = 100
	DefaultStuckProcessingMs      = 300000
	DefaultOrphanMinAgeMs         = 60000
	DefaultOrphanMaxAgeMs         = 86400000
)

// Default timeout values
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultDatabaseBackoffMs     = 500
	DefaultDatabaseMaxBackoffMs  = 5000
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
)

// DefaultServerAddress is the ops server (health/readiness/metrics) bind address.
const DefaultServerAddress = ":8082"
