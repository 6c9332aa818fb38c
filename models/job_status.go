package models

// JobStatus is the ledger state shared by export jobs and report snapshots.
// PENDING moves to READY or FAILED exactly once.
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusReady   JobStatus = "READY"
	JobStatusFailed  JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusReady || s == JobStatusFailed
}

// Raw event types
const (
	EventTypePageView    = "PAGE_VIEW"
	EventTypeQRGenerated = "QR_GENERATED"
	EventTypeQRRedeemed  = "QR_REDEEMED"
)

// AllEventTypes lists the exportable event types in canonical order
var AllEventTypes = []string{EventTypePageView, EventTypeQRGenerated, EventTypeQRRedeemed}

const (
	ExportFormatCSV  = "csv"
	ExportFormatXLSX = "xlsx"
)

const (
	ReportScopeAdmin   = "admin"
	ReportScopePartner = "partner"
)
