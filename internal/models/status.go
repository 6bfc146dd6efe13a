package models

// RecoveryType classifies a recovery request and decides which payload it carries
type RecoveryType string

const (
	RecoveryTypeCash   RecoveryType = "cash"
	RecoveryTypeCards  RecoveryType = "cards"
	RecoveryTypeCrypto RecoveryType = "crypto"
)

// IsValid reports whether t is a known recovery type
func (t RecoveryType) IsValid() bool {
	switch t {
	case RecoveryTypeCash, RecoveryTypeCards, RecoveryTypeCrypto:
		return true
	}
	return false
}

// RecoveryStatus represents the progress of a recovery case
type RecoveryStatus string

const (
	StatusPending       RecoveryStatus = "pending"
	StatusInvestigating RecoveryStatus = "investigating"
	StatusInProgress    RecoveryStatus = "in_progress"
	StatusCompleted     RecoveryStatus = "completed"
	StatusClosed        RecoveryStatus = "closed"
)

// StatusOrder is the fixed progression used for ordering and timeline derivation
var StatusOrder = []RecoveryStatus{
	StatusPending,
	StatusInvestigating,
	StatusInProgress,
	StatusCompleted,
	StatusClosed,
}

// Index returns the position of s in StatusOrder, or -1 for unknown values
func (s RecoveryStatus) Index() int {
	for i, candidate := range StatusOrder {
		if candidate == s {
			return i
		}
	}
	return -1
}

// IsValid reports whether s is one of the defined statuses
func (s RecoveryStatus) IsValid() bool {
	return s.Index() >= 0
}

// IsTerminal reports whether no further progress is expected
func (s RecoveryStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusClosed
}

// CanTransition reports whether moving from one status to another follows the
// progression: forward moves (skips allowed), closed from anywhere, and no-ops.
func CanTransition(from, to RecoveryStatus) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from == to || to == StatusClosed {
		return true
	}
	if from == StatusClosed {
		return false
	}
	return to.Index() > from.Index()
}

// ContactMethod is how the user wants to be reached about a case
type ContactMethod string

const (
	ContactEmail ContactMethod = "email"
	ContactPhone ContactMethod = "phone"
	ContactBoth  ContactMethod = "both"
)

// Role is the access level of a user profile
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ScamReportStatus tracks moderation of a scam report
type ScamReportStatus string

const (
	ScamReportPending   ScamReportStatus = "pending"
	ScamReportReviewing ScamReportStatus = "reviewing"
	ScamReportVerified  ScamReportStatus = "verified"
	ScamReportRejected  ScamReportStatus = "rejected"
)

// ABTestStatus gates which actions are available for an A/B test
type ABTestStatus string

const (
	ABTestDraft     ABTestStatus = "draft"
	ABTestRunning   ABTestStatus = "running"
	ABTestPaused    ABTestStatus = "paused"
	ABTestCompleted ABTestStatus = "completed"
)

// OutboxStatus tracks delivery of an after-commit confirmation
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "failed"
)
