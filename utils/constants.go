package utils

import (
	"time"
)

// Request context keys
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserAgentKey contextKey = "user_agent"
	IPAddressKey contextKey = "ip_address"
	EndpointKey  contextKey = "endpoint"
	TimeoutKey   contextKey = "timeout"
)

// Session cookies
const (
	AdminSessionCookie   = "admin_session"
	PartnerSessionCookie = "partner_session"

	// SessionTTL is the lifetime of admin and partner session cookies (7 days)
	SessionTTL = 7 * 24 * time.Hour

	// ReportTokenTTL is the lifetime of print-route report tokens
	ReportTokenTTL = 300 * time.Second
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Job polling contract offered to clients
const (
	JobPollInterval = 2 * time.Second
	JobPollWindow   = 60 * time.Second
)

// Export pipeline constants
const (
	ExportsBucket = "exports"
	ReportsBucket = "reports"

	SignedURLTTL = 3600 * time.Second

	ExportJobListLimit      = 20
	SnapshotListLimit       = 50
	ExportErrorMaxLength    = 200
	SnapshotErrorMaxLength  = 100
	DefaultExportTimezone   = "Europe/Rome"
	LegacyExportRowLimit    = 10000
	DefaultBackfillMonths   = 3
	LocalTimestampLayout    = "2006-01-02 15:04:05"
	ExportFileDateLayout    = "20060102"
	RequestDateLayout       = "2006-01-02"
	MonthLayout             = "2006-01"
	UTCTimestampMilliLayout = "2006-01-02T15:04:05.000Z07:00"
)
