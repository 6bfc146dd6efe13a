package recovery

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"harmonyshield/internal/models"
	"harmonyshield/internal/validation"
)

const dateLayout = "2006-01-02"

// FieldErrors maps a JSON field name to its message
type FieldErrors map[string]string

// ValidationError is returned when a form fails validation. No store call
// has been made when it is returned.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "validation failed: " + strings.Join(names, ", ")
}

// Form is a type-specific recovery request submission
type Form interface {
	Type() models.RecoveryType
	Validate() FieldErrors
	build(userID uuid.UUID) (*models.RecoveryRequest, error)
}

// Common holds the fields shared by every recovery form
type Common struct {
	Title         string   `json:"title" validate:"required,min=3,max=200"`
	Description   string   `json:"description" validate:"required,min=10"`
	IncidentDate  string   `json:"incident_date" validate:"required,datetime=2006-01-02"`
	AmountLost    string   `json:"amount_lost" validate:"required,amount"`
	Currency      string   `json:"currency" validate:"required,trimmed,min=3,max=10"`
	ContactMethod string   `json:"contact_method" validate:"required,oneof=email phone both"`
	ContactEmail  string   `json:"contact_email" validate:"omitempty,email"`
	ContactPhone  string   `json:"contact_phone" validate:"omitempty,min=7,max=20"`
	EvidenceFiles []string `json:"evidence_files" validate:"max=20,dive,required"`
}

// CashForm is the bank transfer / cash recovery form
type CashForm struct {
	Common
	BankName             string `json:"bank_name" validate:"required,min=2"`
	AccountNumber        string `json:"account_number" validate:"required,len=4,numeric"`
	SortCode             string `json:"sort_code" validate:"omitempty,max=10"`
	SwiftCode            string `json:"swift_code" validate:"omitempty,min=8,max=11,alphanum"`
	TransactionReference string `json:"transaction_reference"`
}

// CardsForm is the card fraud recovery form
type CardsForm struct {
	Common
	CardType           string `json:"card_type" validate:"required,oneof=credit debit prepaid"`
	CardIssuer         string `json:"card_issuer" validate:"required,min=2"`
	LastFourDigits     string `json:"last_four_digits" validate:"required,len=4,numeric"`
	FraudType          string `json:"fraud_type" validate:"required,oneof=unauthorized_transaction card_not_present skimming identity_theft phishing other"`
	MerchantName       string `json:"merchant_name"`
	TransactionDetails string `json:"transaction_details"`
	DisputeFiled       bool   `json:"dispute_filed"`
	DisputeReference   string `json:"dispute_reference" validate:"required_if=DisputeFiled true"`
}

// CryptoForm is the cryptocurrency recovery form
type CryptoForm struct {
	Common
	WalletAddress     string `json:"wallet_address" validate:"required,min=10,max=128"`
	TransactionHash   string `json:"transaction_hash" validate:"omitempty,max=128"`
	BlockchainNetwork string `json:"blockchain_network" validate:"required,oneof=bitcoin ethereum binance_smart_chain polygon solana tron other"`
	ScamPlatform      string `json:"scam_platform"`
	ScamType          string `json:"scam_type" validate:"omitempty,oneof=investment romance impersonation phishing rug_pull other"`
}

func (f *CashForm) Type() models.RecoveryType   { return models.RecoveryTypeCash }
func (f *CardsForm) Type() models.RecoveryType  { return models.RecoveryTypeCards }
func (f *CryptoForm) Type() models.RecoveryType { return models.RecoveryTypeCrypto }

func (f *CashForm) Validate() FieldErrors {
	f.Common.trim()
	trimAll(&f.BankName, &f.SortCode, &f.SwiftCode, &f.TransactionReference)
	return check(f, &f.Common)
}

func (f *CardsForm) Validate() FieldErrors {
	f.Common.trim()
	trimAll(&f.CardIssuer, &f.MerchantName, &f.TransactionDetails, &f.DisputeReference)
	return check(f, &f.Common)
}

func (f *CryptoForm) Validate() FieldErrors {
	f.Common.trim()
	trimAll(&f.WalletAddress, &f.TransactionHash, &f.ScamPlatform)
	return check(f, &f.Common)
}

// trim strips surrounding whitespace from free-text fields so length rules
// apply to the stored value. Currency is left as submitted.
func (c *Common) trim() {
	trimAll(&c.Title, &c.Description, &c.AmountLost, &c.ContactEmail, &c.ContactPhone)
	for i := range c.EvidenceFiles {
		c.EvidenceFiles[i] = strings.TrimSpace(c.EvidenceFiles[i])
	}
}

func trimAll(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}

// NewForm returns an empty form for the recovery type
func NewForm(t models.RecoveryType) (Form, error) {
	switch t {
	case models.RecoveryTypeCash:
		return &CashForm{}, nil
	case models.RecoveryTypeCards:
		return &CardsForm{}, nil
	case models.RecoveryTypeCrypto:
		return &CryptoForm{}, nil
	}
	return nil, fmt.Errorf("unknown recovery type: %q", t)
}

func check(form interface{}, common *Common) FieldErrors {
	fields := FieldErrors(validation.Struct(form))
	if fields == nil {
		fields = FieldErrors{}
	}

	method := models.ContactMethod(common.ContactMethod)
	if (method == models.ContactEmail || method == models.ContactBoth) && strings.TrimSpace(common.ContactEmail) == "" {
		fields["contact_email"] = "required"
	}
	if (method == models.ContactPhone || method == models.ContactBoth) && strings.TrimSpace(common.ContactPhone) == "" {
		fields["contact_phone"] = "required"
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

// base builds the shared part of a request from validated input
func (c *Common) base(userID uuid.UUID, t models.RecoveryType) (*models.RecoveryRequest, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(c.AmountLost))
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	incident, err := time.Parse(dateLayout, c.IncidentDate)
	if err != nil {
		return nil, fmt.Errorf("invalid incident date: %w", err)
	}

	evidence := models.StringList{}
	for _, f := range c.EvidenceFiles {
		evidence = append(evidence, strings.TrimSpace(f))
	}

	return &models.RecoveryRequest{
		UserID:        userID,
		RecoveryType:  t,
		Title:         strings.TrimSpace(c.Title),
		Description:   strings.TrimSpace(c.Description),
		IncidentDate:  incident,
		AmountLost:    amount,
		Currency:      c.Currency,
		ContactMethod: models.ContactMethod(c.ContactMethod),
		ContactDetails: datatypes.NewJSONType(models.ContactDetails{
			Email: strings.TrimSpace(c.ContactEmail),
			Phone: strings.TrimSpace(c.ContactPhone),
		}),
		EvidenceFiles:   evidence,
		Status:          models.StatusPending,
		ProgressUpdates: models.ProgressUpdates{},
	}, nil
}

func (f *CashForm) build(userID uuid.UUID) (*models.RecoveryRequest, error) {
	req, err := f.base(userID, f.Type())
	if err != nil {
		return nil, err
	}
	req.BankDetails = &models.BankDetails{
		BankName:      strings.TrimSpace(f.BankName),
		AccountNumber: f.AccountNumber,
		SortCode:      strings.TrimSpace(f.SortCode),
		SwiftCode:     strings.ToUpper(strings.TrimSpace(f.SwiftCode)),
	}
	req.TransactionReference = optional(f.TransactionReference)
	return req, nil
}

func (f *CardsForm) build(userID uuid.UUID) (*models.RecoveryRequest, error) {
	req, err := f.base(userID, f.Type())
	if err != nil {
		return nil, err
	}
	req.CardDetails = &models.CardDetails{
		CardType:           f.CardType,
		CardIssuer:         strings.TrimSpace(f.CardIssuer),
		FraudType:          f.FraudType,
		MerchantName:       strings.TrimSpace(f.MerchantName),
		TransactionDetails: strings.TrimSpace(f.TransactionDetails),
		DisputeFiled:       f.DisputeFiled,
		DisputeReference:   strings.TrimSpace(f.DisputeReference),
	}
	last4 := f.LastFourDigits
	req.LastFourDigits = &last4
	return req, nil
}

func (f *CryptoForm) build(userID uuid.UUID) (*models.RecoveryRequest, error) {
	req, err := f.base(userID, f.Type())
	if err != nil {
		return nil, err
	}
	wallet := strings.TrimSpace(f.WalletAddress)
	network := f.BlockchainNetwork
	req.WalletAddress = &wallet
	req.BlockchainNetwork = &network
	req.TransactionHash = optional(f.TransactionHash)

	// scam context travels in contact_details extras
	details := req.ContactDetails.Data()
	extras := map[string]string{}
	if v := strings.TrimSpace(f.ScamPlatform); v != "" {
		extras["scam_platform"] = v
	}
	if f.ScamType != "" {
		extras["scam_type"] = f.ScamType
	}
	if len(extras) > 0 {
		details.Extras = extras
		req.ContactDetails = datatypes.NewJSONType(details)
	}
	return req, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
