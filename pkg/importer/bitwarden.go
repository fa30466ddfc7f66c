package importer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forest6511/lokivault/pkg/vault"
)

// BitwardenParser parses Bitwarden JSON export files (unencrypted).
type BitwardenParser struct{}

// Bitwarden item types.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
	bitwardenTypeSSHKey     = 5
)

// Bitwarden custom field types.
const (
	bitwardenFieldText    = 0
	bitwardenFieldHidden  = 1
	bitwardenFieldBoolean = 2
)

// bitwardenExport represents the top-level Bitwarden export structure.
type bitwardenExport struct {
	Encrypted   bool              `json:"encrypted"`
	Items       []bitwardenItem   `json:"items"`
	Folders     []bitwardenFolder `json:"folders"`
	Collections []bitwardenFolder `json:"collections"`
}

// bitwardenFolder represents a Bitwarden folder or organization collection.
type bitwardenFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// bitwardenItem represents a Bitwarden vault item.
type bitwardenItem struct {
	Type          int                    `json:"type"`
	Name          string                 `json:"name"`
	Notes         string                 `json:"notes"`
	Favorite      bool                   `json:"favorite"`
	FolderID      *string                `json:"folderId"`
	CollectionIDs []string               `json:"collectionIds"`
	Login         *bitwardenLogin        `json:"login"`
	Card          *bitwardenCard         `json:"card"`
	Identity      *bitwardenIdentity     `json:"identity"`
	SSHKey        *bitwardenSSHKey       `json:"sshKey"`
	Fields        []bitwardenCustomField `json:"fields"`
}

// bitwardenLogin represents Bitwarden login data.
type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	TOTP     string         `json:"totp"`
}

// bitwardenURI represents a Bitwarden URI entry.
type bitwardenURI struct {
	URI string `json:"uri"`
}

// bitwardenCard represents Bitwarden card data.
type bitwardenCard struct {
	CardholderName string `json:"cardholderName"`
	Number         string `json:"number"`
	ExpMonth       string `json:"expMonth"`
	ExpYear        string `json:"expYear"`
	Code           string `json:"code"`
	Brand          string `json:"brand"`
}

// bitwardenIdentity represents Bitwarden identity data.
type bitwardenIdentity struct {
	Title          string `json:"title"`
	FirstName      string `json:"firstName"`
	MiddleName     string `json:"middleName"`
	LastName       string `json:"lastName"`
	Username       string `json:"username"`
	Company        string `json:"company"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Address1       string `json:"address1"`
	Address2       string `json:"address2"`
	Address3       string `json:"address3"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postalCode"`
	Country        string `json:"country"`
	SSN            string `json:"ssn"`
	PassportNumber string `json:"passportNumber"`
	LicenseNumber  string `json:"licenseNumber"`
}

// bitwardenSSHKey represents Bitwarden SSH key data.
type bitwardenSSHKey struct {
	PrivateKey     string `json:"privateKey"`
	PublicKey      string `json:"publicKey"`
	KeyFingerprint string `json:"keyFingerprint"`
}

// bitwardenCustomField represents a Bitwarden custom field.
type bitwardenCustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  int    `json:"type"`
}

// Source returns the source type for this parser.
func (p *BitwardenParser) Source() Source {
	return SourceBitwarden
}

// Parse parses Bitwarden JSON data.
func (p *BitwardenParser) Parse(data []byte) (*Result, error) {
	result := &Result{}

	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to parse Bitwarden JSON: %w", err)
	}
	if export.Encrypted {
		return nil, fmt.Errorf("encrypted Bitwarden exports are not supported: export as unencrypted JSON")
	}

	// Build folder and collection lookup maps
	folderMap := make(map[string]string)
	for _, f := range export.Folders {
		folderMap[f.ID] = f.Name
	}
	collectionMap := make(map[string]string)
	for _, c := range export.Collections {
		collectionMap[c.ID] = c.Name
	}

	// Track for title generation fallback
	itemCounter := 1

	for i := range export.Items {
		item := &export.Items[i]
		warning := p.parseItem(item, folderMap, collectionMap, &itemCounter, result)
		if warning != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("item %d (%s): %s", i+1, item.Name, warning))
		}
	}

	return result, nil
}

// parseItem converts a single Bitwarden item and appends it to result.
func (p *BitwardenParser) parseItem(item *bitwardenItem, folderMap, collectionMap map[string]string, itemCounter *int, result *Result) string {
	// Build tags from folder and collections
	var tags []string
	if item.FolderID != nil {
		if name := folderMap[*item.FolderID]; name != "" {
			tags = appendUnique(tags, name)
		}
	}
	for _, id := range item.CollectionIDs {
		if name := collectionMap[id]; name != "" {
			tags = appendUnique(tags, name)
		}
	}

	var url string
	if item.Login != nil && len(item.Login.URIs) > 0 {
		url = item.Login.URIs[0].URI
	}
	header := vault.Header{
		Title:      titleOrFallback(item.Name, url, itemCounter),
		IsFavorite: item.Favorite,
		Tags:       tags,
	}
	notes := p.customFieldNotes(item)

	switch item.Type {
	case bitwardenTypeLogin:
		return p.parseLogin(item, header, notes, result)
	case bitwardenTypeSecureNote:
		if IsEmptyOrWhitespace(notes) {
			result.Skipped = append(result.Skipped, SkippedItem{OriginalName: item.Name, Reason: "empty note"})
			return ""
		}
		result.Records.Notes = append(result.Records.Notes, vault.SecureNote{Header: header, Content: notes})
	case bitwardenTypeCard:
		return p.parseCard(item, header, notes, result)
	case bitwardenTypeIdentity:
		return p.parseIdentity(item, header, notes, result)
	case bitwardenTypeSSHKey:
		if item.SSHKey == nil || item.SSHKey.PrivateKey == "" {
			result.Skipped = append(result.Skipped, SkippedItem{OriginalName: item.Name, Reason: "no private key"})
			return ""
		}
		notes = appendNote(notes, "Public key", item.SSHKey.PublicKey)
		result.Records.APIKeys = append(result.Records.APIKeys, vault.APIKey{
			Header:      header,
			ServiceName: item.SSHKey.KeyFingerprint,
			Key:         item.SSHKey.PrivateKey,
			APIType:     vault.APISSHKey,
			Notes:       notes,
		})
	default:
		return fmt.Sprintf("unsupported item type: %d", item.Type)
	}
	return ""
}

// customFieldNotes returns the item notes followed by one line per custom
// field. Hidden fields are included; notes are encrypted like every field.
func (p *BitwardenParser) customFieldNotes(item *bitwardenItem) string {
	notes := strings.TrimSpace(item.Notes)
	for _, cf := range item.Fields {
		name := strings.TrimSpace(cf.Name)
		if name == "" {
			name = "Custom field"
		}
		switch cf.Type {
		case bitwardenFieldText, bitwardenFieldHidden, bitwardenFieldBoolean:
			notes = appendNote(notes, name, cf.Value)
		}
	}
	return notes
}

// parseLogin converts a Login type item.
func (p *BitwardenParser) parseLogin(item *bitwardenItem, header vault.Header, notes string, result *Result) string {
	login := item.Login
	if login == nil || (login.Username == "" && login.Password == "" && login.TOTP == "" && notes == "") {
		result.Skipped = append(result.Skipped, SkippedItem{OriginalName: item.Name, Reason: "no useful data"})
		return ""
	}

	rec := vault.LoginItem{
		Header:     header,
		Username:   login.Username,
		Password:   login.Password,
		TOTPSecret: login.TOTP,
	}
	for i, uri := range login.URIs {
		if i == 0 {
			rec.URL = uri.URI
			continue
		}
		notes = appendNote(notes, fmt.Sprintf("URL %d", i+1), uri.URI)
	}
	rec.Notes = notes

	result.Records.Logins = append(result.Records.Logins, rec)
	return ""
}

// parseCard converts a Card type item.
func (p *BitwardenParser) parseCard(item *bitwardenItem, header vault.Header, notes string, result *Result) string {
	card := item.Card
	if card == nil || card.Number == "" {
		result.Skipped = append(result.Skipped, SkippedItem{OriginalName: item.Name, Reason: "no card number"})
		return ""
	}

	rec := vault.CreditCard{
		Header:         header,
		CardholderName: card.CardholderName,
		CardNumber:     strings.ReplaceAll(card.Number, " ", ""),
		CVV:            card.Code,
		Notes:          notes,
	}
	var warning string
	if card.ExpMonth != "" || card.ExpYear != "" {
		month, year, err := parseMonthYear(card.ExpMonth, card.ExpYear)
		if err != nil {
			warning = err.Error()
		} else {
			rec.ExpirationMonth, rec.ExpirationYear = month, year
		}
	}

	result.Records.Cards = append(result.Records.Cards, rec)
	return warning
}

// parseIdentity converts an Identity type item. The first document number
// found (passport, license, SSN) becomes the identity number; the rest go to
// notes.
func (p *BitwardenParser) parseIdentity(item *bitwardenItem, header vault.Header, notes string, result *Result) string {
	id := item.Identity
	if id == nil {
		result.Skipped = append(result.Skipped, SkippedItem{OriginalName: item.Name, Reason: "no identity data"})
		return ""
	}

	rec := vault.Identity{
		Header:       header,
		FirstName:    id.FirstName,
		MiddleName:   id.MiddleName,
		LastName:     id.LastName,
		Email:        id.Email,
		PhoneNumber:  id.Phone,
		Address:      joinLines(id.Address1, id.Address2, id.Address3),
		City:         id.City,
		State:        id.State,
		PostalCode:   id.PostalCode,
		Country:      id.Country,
		IdentityType: vault.IdentityOther,
	}

	documents := []struct {
		kind   vault.IdentityType
		label  string
		number string
	}{
		{vault.IdentityPassport, "Passport", id.PassportNumber},
		{vault.IdentityDriverLicense, "License", id.LicenseNumber},
		{vault.IdentityNationalID, "SSN", id.SSN},
	}
	for _, doc := range documents {
		if doc.number == "" {
			continue
		}
		if rec.IdentityNumber == "" {
			rec.IdentityType, rec.IdentityNumber = doc.kind, doc.number
			continue
		}
		notes = appendNote(notes, doc.label, doc.number)
	}
	notes = appendNote(notes, "Title", id.Title)
	notes = appendNote(notes, "Username", id.Username)
	notes = appendNote(notes, "Company", id.Company)
	rec.Notes = notes

	result.Records.Identities = append(result.Records.Identities, rec)
	return ""
}

func joinLines(parts ...string) string {
	var lines []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			lines = append(lines, p)
		}
	}
	return strings.Join(lines, "\n")
}
