package vault

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind identifies one of the six record collections.
type Kind string

// Record kinds
const (
	KindLogin    Kind = "login"
	KindNote     Kind = "secureNote"
	KindCard     Kind = "creditCard"
	KindIdentity Kind = "identity"
	KindWiFi     Kind = "wifiPassword"
	KindAPIKey   Kind = "apiKey"
)

// Kinds lists every record kind in storage order.
var Kinds = []Kind{KindLogin, KindNote, KindCard, KindIdentity, KindWiFi, KindAPIKey}

// ParseKind maps a kind name (or a common CLI alias) to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case "login", "logins":
		return KindLogin, true
	case "securenote", "note", "notes":
		return KindNote, true
	case "creditcard", "card", "cards":
		return KindCard, true
	case "identity", "identities":
		return KindIdentity, true
	case "wifipassword", "wifi":
		return KindWiFi, true
	case "apikey", "apikeys", "api-key":
		return KindAPIKey, true
	}
	return "", false
}

// Header carries the fields shared by every record.
type Header struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
	IsFavorite bool      `json:"isFavorite"`
	CategoryID string    `json:"categoryId,omitempty"`
	Tags       []string  `json:"tags"`
}

func (h *Header) header() *Header { return h }

// Record is satisfied by pointers to the six record types. The set is closed:
// the unexported methods cannot be implemented outside this package.
type Record[T any] interface {
	*T
	Kind() Kind
	header() *Header
	slot(*Snapshot) *[]T
	searchable() []string
}

// LoginItem is a website or application credential.
type LoginItem struct {
	Header
	Username   string `json:"username"`
	Password   string `json:"password"`
	URL        string `json:"url,omitempty"`
	Notes      string `json:"notes,omitempty"`
	TOTPSecret string `json:"totpSecret,omitempty"`
}

func (*LoginItem) Kind() Kind                    { return KindLogin }
func (*LoginItem) slot(s *Snapshot) *[]LoginItem { return &s.Logins }
func (l *LoginItem) searchable() []string        { return []string{l.Title, l.Username, l.URL, l.Domain(), l.Notes} }

// Domain returns the host part of the item URL, or "" if it has none.
func (l *LoginItem) Domain() string {
	if l.URL == "" {
		return ""
	}
	u, err := url.Parse(l.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// SecureNote is free-form encrypted text.
type SecureNote struct {
	Header
	Content string `json:"content"`
}

func (*SecureNote) Kind() Kind                     { return KindNote }
func (*SecureNote) slot(s *Snapshot) *[]SecureNote { return &s.Notes }
func (n *SecureNote) searchable() []string         { return []string{n.Title, n.Content} }

// CardBrand is the issuer network inferred from a card number.
type CardBrand string

// Card brands
const (
	BrandVisa       CardBrand = "Visa"
	BrandMastercard CardBrand = "Mastercard"
	BrandAmex       CardBrand = "American Express"
	BrandDiscover   CardBrand = "Discover"
	BrandUnknown    CardBrand = "Unknown"
)

// CreditCard is a payment card.
type CreditCard struct {
	Header
	CardholderName  string `json:"cardholderName"`
	CardNumber      string `json:"cardNumber"`
	ExpirationMonth int    `json:"expirationMonth"`
	ExpirationYear  int    `json:"expirationYear"`
	CVV             string `json:"cvv"`
	PIN             string `json:"pin,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

func (*CreditCard) Kind() Kind                     { return KindCard }
func (*CreditCard) slot(s *Snapshot) *[]CreditCard { return &s.Cards }
func (c *CreditCard) searchable() []string {
	return []string{c.Title, c.CardholderName, c.MaskedNumber(), c.Notes}
}

// MaskedNumber shows only the last four digits.
func (c *CreditCard) MaskedNumber() string {
	n := utf8.RuneCountInString(c.CardNumber)
	if n < 4 {
		return c.CardNumber
	}
	return "•••• " + string([]rune(c.CardNumber)[n-4:])
}

// Brand infers the card network from the first digit.
func (c *CreditCard) Brand() CardBrand {
	if c.CardNumber == "" {
		return BrandUnknown
	}
	switch c.CardNumber[0] {
	case '4':
		return BrandVisa
	case '5':
		return BrandMastercard
	case '3':
		return BrandAmex
	case '6':
		return BrandDiscover
	}
	return BrandUnknown
}

// Expiration formats the expiry as MM/YYYY.
func (c *CreditCard) Expiration() string {
	return fmt.Sprintf("%02d/%d", c.ExpirationMonth, c.ExpirationYear)
}

// ExpiredAt reports whether the card's expiry month lies before now's month.
func (c *CreditCard) ExpiredAt(now time.Time) bool {
	year, month := now.Year(), int(now.Month())
	if c.ExpirationYear < year {
		return true
	}
	return c.ExpirationYear == year && c.ExpirationMonth < month
}

// IdentityType is the kind of identity document.
type IdentityType string

// Identity document types
const (
	IdentityPassport      IdentityType = "Passport"
	IdentityDriverLicense IdentityType = "Driver's License"
	IdentityNationalID    IdentityType = "National ID"
	IdentityOther         IdentityType = "Other"
)

// Identity is a personal identity document.
type Identity struct {
	Header
	FirstName      string       `json:"firstName"`
	LastName       string       `json:"lastName"`
	MiddleName     string       `json:"middleName,omitempty"`
	DateOfBirth    *time.Time   `json:"dateOfBirth,omitempty"`
	Gender         string       `json:"gender,omitempty"`
	Nationality    string       `json:"nationality,omitempty"`
	IdentityType   IdentityType `json:"identityType"`
	IdentityNumber string       `json:"identityNumber"`
	IssuingCountry string       `json:"issuingCountry,omitempty"`
	IssueDate      *time.Time   `json:"issueDate,omitempty"`
	ExpiryDate     *time.Time   `json:"expiryDate,omitempty"`
	Address        string       `json:"address,omitempty"`
	City           string       `json:"city,omitempty"`
	State          string       `json:"state,omitempty"`
	PostalCode     string       `json:"postalCode,omitempty"`
	Country        string       `json:"country,omitempty"`
	PhoneNumber    string       `json:"phoneNumber,omitempty"`
	Email          string       `json:"email,omitempty"`
	Notes          string       `json:"notes,omitempty"`
}

func (*Identity) Kind() Kind                   { return KindIdentity }
func (*Identity) slot(s *Snapshot) *[]Identity { return &s.Identities }
func (i *Identity) searchable() []string {
	return []string{i.Title, i.FullName(), i.IdentityNumber, i.PhoneNumber, i.Email, i.Notes}
}

// FullName joins the first, middle and last names.
func (i *Identity) FullName() string {
	return joinNonEmpty(" ", i.FirstName, i.MiddleName, i.LastName)
}

// ExpiredAt reports whether the document expired before now.
func (i *Identity) ExpiredAt(now time.Time) bool {
	return i.ExpiryDate != nil && i.ExpiryDate.Before(now)
}

// WiFiSecurity is the wireless security mode.
type WiFiSecurity string

// Wi-Fi security modes
const (
	WiFiWPA3 WiFiSecurity = "WPA3"
	WiFiWPA2 WiFiSecurity = "WPA2"
	WiFiWPA  WiFiSecurity = "WPA"
	WiFiWEP  WiFiSecurity = "WEP"
	WiFiOpen WiFiSecurity = "Open"
)

// WiFiPassword is a wireless network key.
type WiFiPassword struct {
	Header
	SSID         string       `json:"ssid"`
	Password     string       `json:"password"`
	SecurityType WiFiSecurity `json:"securityType"`
	Notes        string       `json:"notes,omitempty"`
}

func (*WiFiPassword) Kind() Kind                       { return KindWiFi }
func (*WiFiPassword) slot(s *Snapshot) *[]WiFiPassword { return &s.WiFi }
func (w *WiFiPassword) searchable() []string           { return []string{w.Title, w.SSID, w.Notes} }

// APIType is the kind of API credential.
type APIType string

// API credential types
const (
	APIRest        APIType = "REST API"
	APIGraphQL     APIType = "GraphQL"
	APISSHKey      APIType = "SSH Key"
	APIAccessToken APIType = "Access Token"
	APIOther       APIType = "Other"
)

// APIKey is an API key or token.
type APIKey struct {
	Header
	ServiceName string     `json:"serviceName"`
	Key         string     `json:"apiKey"`
	Secret      string     `json:"apiSecret,omitempty"`
	APIType     APIType    `json:"apiType"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

func (*APIKey) Kind() Kind                 { return KindAPIKey }
func (*APIKey) slot(s *Snapshot) *[]APIKey { return &s.APIKeys }
func (a *APIKey) searchable() []string     { return []string{a.Title, a.ServiceName, a.Notes} }

// MaskedKey keeps the first and last four characters of keys longer than eight.
func (a *APIKey) MaskedKey() string {
	r := []rune(a.Key)
	if len(r) <= 8 {
		return "••••••••"
	}
	return string(r[:4]) + "••••" + string(r[len(r)-4:])
}

// ExpiredAt reports whether the key expired before now.
func (a *APIKey) ExpiredAt(now time.Time) bool {
	return a.ExpiryDate != nil && a.ExpiryDate.Before(now)
}

// SearchableContent returns the lower-cased text a search matches against.
func SearchableContent[T any, P Record[T]](item *T) string {
	return strings.ToLower(joinNonEmpty(" ", P(item).searchable()...))
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
