package schemas

import (
	"cloud.google.com/go/civil"
)

// Vendor is the identifier stamped on every harvested document.
const Vendor = "sfr"

// ContractKind classifies a line as mobile or landline.
type ContractKind string

const (
	ContractMobile ContractKind = "mobile"
	ContractFixed  ContractKind = "fixed"
)

// CurrentContractID is the sentinel token of the default line, reachable
// without a navigation parameter.
const CurrentContractID = "current"

// Contract is one billable line on the account. It is enumerated once per run
// and never mutated afterwards.
type Contract struct {
	ID    string       `json:"id"`
	Label string       `json:"label"`
	Kind  ContractKind `json:"kind"`
	// Href is the navigation link the entry was read from. Empty for the
	// synthetic contract of accounts without a line list.
	Href string `json:"href,omitempty"`
}

// IsCurrent reports whether c is the default line.
func (c Contract) IsCurrent() bool { return c.ID == CurrentContractID }

// BillMetadata mirrors the file attributes expected by the vault.
type BillMetadata struct {
	ContentAuthor  string     `json:"contentAuthor"`
	IssueDate      civil.Date `json:"issueDate"`
	DatetimeLabel  string     `json:"datetimeLabel"`
	IsSubscription bool       `json:"isSubscription"`
	CarbonCopy     bool       `json:"carbonCopy"`
}

// BillRecord is the canonical form of one downloadable billing document.
type BillRecord struct {
	Amount   float64    `json:"amount"`
	Currency string     `json:"currency"`
	Date     civil.Date `json:"date"`
	// PaymentDate is nil when the portal no longer exposes it. Nil means
	// unknown, never unpaid.
	PaymentDate *civil.Date `json:"paymentDate,omitempty"`
	Filename    string      `json:"filename"`
	// FileURL and DataURI are mutually exclusive transports.
	FileURL    string       `json:"fileurl,omitempty"`
	DataURI    string       `json:"dataUri,omitempty"`
	Vendor     string       `json:"vendor"`
	SubPath    string       `json:"subPath,omitempty"`
	IsDetailed bool         `json:"isDetailed"`
	Metadata   BillMetadata `json:"metadata"`

	// SourcePath is the portal-relative href of the document. It feeds the
	// transport strategy and is not persisted.
	SourcePath string `json:"-"`
}

// DedupeKey returns the identity of the record within the vault.
func (b BillRecord) DedupeKey() string {
	if b.SubPath == "" {
		return b.Filename
	}
	return b.SubPath + "/" + b.Filename
}

// PersonName holds the decomposed holder name.
type PersonName struct {
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
	FullName   string `json:"fullname"`
}

// Address is a best-effort decomposition of the formatted postal address.
type Address struct {
	FormattedAddress string `json:"formattedAddress"`
	HouseNumber      string `json:"houseNumber,omitempty"`
	PostCode         string `json:"postCode,omitempty"`
	Street           string `json:"street,omitempty"`
	City             string `json:"city,omitempty"`
}

// PhoneType tags a phone number.
type PhoneType string

const (
	PhoneMobile PhoneType = "mobile"
	PhoneHome   PhoneType = "home"
)

// Phone is one contact number.
type Phone struct {
	Type   PhoneType `json:"type"`
	Number string    `json:"number"`
}

// UserIdentity is the account holder as shown on the personal information page.
type UserIdentity struct {
	Email   string     `json:"email"`
	Name    PersonName `json:"name"`
	Address []Address  `json:"address"`
	Phone   []Phone    `json:"phone"`
}

// Credentials are the portal login plus the optional session continuity tag.
type Credentials struct {
	Login      string `json:"login"`
	Password   string `json:"password"`
	SessionTag string `json:"sessionTag,omitempty"`
}

// IsZero reports whether no login was captured.
func (c Credentials) IsZero() bool { return c.Login == "" && c.Password == "" }
