package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Base carries the identity and timestamps shared by every table
type Base struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a random id when the caller left it empty
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// PrimaryKey returns the row id
func (b *Base) PrimaryKey() uuid.UUID {
	return b.ID
}

// ResetIdentity clears the id and timestamps so the store assigns them
func (b *Base) ResetIdentity() {
	*b = Base{}
}

// RecoveryRequest is one submitted recovery case. Exactly one of the
// type-specific payloads is populated, matching RecoveryType.
type RecoveryRequest struct {
	Base
	UserID       uuid.UUID       `json:"user_id" gorm:"type:uuid;not null;index"`
	RecoveryType RecoveryType    `json:"recovery_type" gorm:"type:varchar(16);not null;index"`
	Title        string          `json:"title" gorm:"not null"`
	Description  string          `json:"description" gorm:"type:text;not null"`
	IncidentDate time.Time       `json:"incident_date"`
	AmountLost   decimal.Decimal `json:"amount_lost" gorm:"type:numeric;not null"`
	Currency     string          `json:"currency" gorm:"type:varchar(10);not null"`

	// cash
	BankDetails          *BankDetails `json:"bank_details" gorm:"type:jsonb"`
	TransactionReference *string      `json:"transaction_reference"`

	// cards
	CardDetails    *CardDetails `json:"card_details" gorm:"type:jsonb"`
	LastFourDigits *string      `json:"last_four_digits" gorm:"type:varchar(4)"`

	// crypto
	WalletAddress     *string `json:"wallet_address"`
	TransactionHash   *string `json:"transaction_hash"`
	BlockchainNetwork *string `json:"blockchain_network"`

	ContactMethod  ContactMethod                      `json:"contact_method" gorm:"type:varchar(8);not null"`
	ContactDetails datatypes.JSONType[ContactDetails] `json:"contact_details"`

	EvidenceFiles   StringList      `json:"evidence_files" gorm:"type:jsonb"`
	AdminNotes      string          `json:"admin_notes" gorm:"type:text"`
	Status          RecoveryStatus  `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	AssignedAdminID *uuid.UUID      `json:"assigned_admin_id" gorm:"type:uuid"`
	ProgressUpdates ProgressUpdates `json:"progress_updates" gorm:"type:jsonb"`
}

// HasPayloadFor reports whether the populated payload matches the recovery type
func (r *RecoveryRequest) HasPayloadFor() bool {
	cash := r.BankDetails != nil
	cards := r.CardDetails != nil
	crypto := r.WalletAddress != nil
	switch r.RecoveryType {
	case RecoveryTypeCash:
		return cash && !cards && !crypto
	case RecoveryTypeCards:
		return cards && !cash && !crypto
	case RecoveryTypeCrypto:
		return crypto && !cash && !cards
	}
	return false
}

// BankDetails is the cash-recovery payload. AccountNumber holds the last 4 digits only.
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	SortCode      string `json:"sort_code,omitempty"`
	SwiftCode     string `json:"swift_code,omitempty"`
}

// Value implements driver.Valuer
func (b BankDetails) Value() (driver.Value, error) {
	return jsonValue(b)
}

// Scan implements sql.Scanner
func (b *BankDetails) Scan(value interface{}) error {
	return jsonScan(value, b)
}

// CardDetails is the card-fraud payload
type CardDetails struct {
	CardType           string `json:"card_type"`
	CardIssuer         string `json:"card_issuer"`
	FraudType          string `json:"fraud_type"`
	MerchantName       string `json:"merchant_name,omitempty"`
	TransactionDetails string `json:"transaction_details,omitempty"`
	DisputeFiled       bool   `json:"dispute_filed"`
	DisputeReference   string `json:"dispute_reference,omitempty"`
}

// Value implements driver.Valuer
func (c CardDetails) Value() (driver.Value, error) {
	return jsonValue(c)
}

// Scan implements sql.Scanner
func (c *CardDetails) Scan(value interface{}) error {
	return jsonScan(value, c)
}

// ContactDetails holds the contact channels plus type-specific extras
// such as the crypto scam context.
type ContactDetails struct {
	Email  string            `json:"email,omitempty"`
	Phone  string            `json:"phone,omitempty"`
	Extras map[string]string `json:"extras,omitempty"`
}

// ProgressUpdate is one immutable entry of a case's status log
type ProgressUpdate struct {
	Status     RecoveryStatus `json:"status"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	AdminNotes string         `json:"admin_notes,omitempty"`
}

// ProgressUpdates is the append-only log stored as a JSON array
type ProgressUpdates []ProgressUpdate

// Value implements driver.Valuer
func (p ProgressUpdates) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	return jsonValue(p)
}

// Scan implements sql.Scanner
func (p *ProgressUpdates) Scan(value interface{}) error {
	return jsonScan(value, p)
}

// Last returns the most recent entry, if any
func (p ProgressUpdates) Last() (ProgressUpdate, bool) {
	if len(p) == 0 {
		return ProgressUpdate{}, false
	}
	return p[len(p)-1], true
}

// StringList is a JSON array of strings
type StringList []string

// Value implements driver.Valuer
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return jsonValue(s)
}

// Scan implements sql.Scanner
func (s *StringList) Scan(value interface{}) error {
	return jsonScan(value, s)
}

// UserProfile mirrors an account and its role
type UserProfile struct {
	Base
	Email        string     `json:"email" gorm:"uniqueIndex;not null"`
	FullName     string     `json:"full_name"`
	Role         Role       `json:"role" gorm:"type:varchar(16);not null;default:'user'"`
	PasswordHash string     `json:"-" gorm:"not null"`
	IsActive     bool       `json:"is_active" gorm:"default:true"`
	LastLogin    *time.Time `json:"last_login"`
}

// ScamReport is a user-submitted report of a scam
type ScamReport struct {
	Base
	UserID      uuid.UUID        `json:"user_id" gorm:"type:uuid;not null;index"`
	Title       string           `json:"title" gorm:"not null"`
	Description string           `json:"description" gorm:"type:text"`
	ScamType    string           `json:"scam_type" gorm:"not null"`
	URL         string           `json:"url"`
	AmountLost  *decimal.Decimal `json:"amount_lost" gorm:"type:numeric"`
	Status      ScamReportStatus `json:"status" gorm:"type:varchar(16);not null;default:'pending'"`
	RiskScore   *float64         `json:"risk_score"`
}

// ABTest is an experiment definition
type ABTest struct {
	Base
	Name         string         `json:"name" gorm:"not null"`
	Description  string         `json:"description"`
	Variants     datatypes.JSON `json:"variants"`
	TrafficSplit int            `json:"traffic_split" gorm:"default:50"`
	Status       ABTestStatus   `json:"status" gorm:"type:varchar(16);not null;default:'draft'"`
	StartedAt    *time.Time     `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at"`
}

// ABTestAssignment records the variant served to a user
type ABTestAssignment struct {
	Base
	TestID  uuid.UUID `json:"test_id" gorm:"type:uuid;not null;index"`
	UserID  uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	Variant string    `json:"variant" gorm:"not null"`
}

// BotPackage is a purchasable protection package
type BotPackage struct {
	Base
	Name        string          `json:"name" gorm:"not null"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price" gorm:"type:numeric;not null"`
	Features    datatypes.JSON  `json:"features"`
	IsActive    bool            `json:"is_active" gorm:"default:true"`
}

// BotSubscription links a user to a bot package
type BotSubscription struct {
	Base
	PackageID uuid.UUID `json:"package_id" gorm:"type:uuid;not null;index"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	Status    string    `json:"status" gorm:"not null;default:'active'"`
}

// NewsArticle is an aggregated scam-news item
type NewsArticle struct {
	Base
	Title       string    `json:"title" gorm:"not null"`
	Summary     string    `json:"summary" gorm:"type:text"`
	URL         string    `json:"url" gorm:"uniqueIndex;not null"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"published_at" gorm:"index"`
}

// Notification is an in-app message for a user
type Notification struct {
	Base
	UserID  uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	Title   string    `json:"title" gorm:"not null"`
	Message string    `json:"message" gorm:"type:text"`
	Type    string    `json:"type" gorm:"not null;default:'info'"`
	Read    bool      `json:"read" gorm:"default:false"`
}

// AuditLog is the append-only record of administrative actions
type AuditLog struct {
	Base
	AdminID    uuid.UUID      `json:"admin_id" gorm:"type:uuid;not null;index"`
	Action     string         `json:"action" gorm:"not null"`
	Resource   string         `json:"resource" gorm:"not null;index"`
	ResourceID string         `json:"resource_id"`
	Details    datatypes.JSON `json:"details"`
	IPAddress  string         `json:"ip_address"`
}

// SystemConfig is a key/value system setting editable by admins
type SystemConfig struct {
	Base
	Key         string         `json:"key" gorm:"uniqueIndex;not null"`
	Value       datatypes.JSON `json:"value"`
	Description string         `json:"description"`
	UpdatedBy   *uuid.UUID     `json:"updated_by" gorm:"type:uuid"`
}

// ConfirmationOutbox is a pending after-commit confirmation for a recovery request
type ConfirmationOutbox struct {
	Base
	RequestID uuid.UUID    `json:"request_id" gorm:"type:uuid;not null;index"`
	UserID    uuid.UUID    `json:"user_id" gorm:"type:uuid;not null"`
	Email     string       `json:"email"`
	Status    OutboxStatus `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error" gorm:"type:text"`
}

// TableName pins the outbox table name
func (ConfirmationOutbox) TableName() string {
	return "confirmation_outbox"
}

// All returns every model for migration
func All() []interface{} {
	return []interface{}{
		&UserProfile{},
		&RecoveryRequest{},
		&ScamReport{},
		&ABTest{},
		&ABTestAssignment{},
		&BotPackage{},
		&BotSubscription{},
		&NewsArticle{},
		&Notification{},
		&AuditLog{},
		&SystemConfig{},
		&ConfirmationOutbox{},
	}
}

func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", value)
	}
}
