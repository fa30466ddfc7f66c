package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/lokivault/pkg/audit"
	"github.com/forest6511/lokivault/pkg/vault"
)

// Flags for add command
var (
	addTitle     string
	addNotes     string
	addTags      string
	addCategory  string
	addFavorite  bool
	addUsername  string
	addURL       string
	addHolder    string
	addExpiry    string
	addSSID      string
	addSecurity  string
	addService   string
	addAPIType   string
	addFirstName string
	addLastName  string
	addIDType    string
	addIDNumber  string
	addEmail     string
	addPhone     string
	addCountry   string
)

// Flags for list command
var (
	listKind      string
	listQuery     string
	listTag       string
	listCategory  string
	listFavorites bool
)

// Flags for show and delete commands
var (
	showReveal  bool
	deleteForce bool
)

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)

	// Common record flags
	addCmd.Flags().StringVar(&addTitle, "title", "", "Record title (required)")
	addCmd.Flags().StringVar(&addNotes, "notes", "", "Notes")
	addCmd.Flags().StringVar(&addTags, "tags", "", "Comma-separated tags (e.g., work,email)")
	addCmd.Flags().StringVar(&addCategory, "category", "", "Category name or ID")
	addCmd.Flags().BoolVar(&addFavorite, "favorite", false, "Mark as favorite")
	_ = addCmd.MarkFlagRequired("title")

	// Kind-specific flags
	addCmd.Flags().StringVar(&addUsername, "username", "", "Login username")
	addCmd.Flags().StringVar(&addURL, "url", "", "Login URL")
	addCmd.Flags().StringVar(&addHolder, "holder", "", "Cardholder name")
	addCmd.Flags().StringVar(&addExpiry, "expiry", "", "Card expiry (MM/YYYY); identity or API key expiry (YYYY-MM-DD)")
	addCmd.Flags().StringVar(&addSSID, "ssid", "", "Wi-Fi network name")
	addCmd.Flags().StringVar(&addSecurity, "security", string(vault.WiFiWPA2), "Wi-Fi security: WPA3, WPA2, WPA, WEP, Open")
	addCmd.Flags().StringVar(&addService, "service", "", "API service name")
	addCmd.Flags().StringVar(&addAPIType, "api-type", string(vault.APIRest), "API credential type")
	addCmd.Flags().StringVar(&addFirstName, "first-name", "", "Identity first name")
	addCmd.Flags().StringVar(&addLastName, "last-name", "", "Identity last name")
	addCmd.Flags().StringVar(&addIDType, "id-type", string(vault.IdentityPassport), "Identity document type")
	addCmd.Flags().StringVar(&addIDNumber, "id-number", "", "Identity document number")
	addCmd.Flags().StringVar(&addEmail, "email", "", "Identity email")
	addCmd.Flags().StringVar(&addPhone, "phone", "", "Identity phone number")
	addCmd.Flags().StringVar(&addCountry, "country", "", "Identity issuing country")

	listCmd.Flags().StringVar(&listKind, "kind", "", "Filter by kind (login, note, card, identity, wifi, apikey)")
	listCmd.Flags().StringVarP(&listQuery, "query", "q", "", "Search titles and non-secret fields")
	listCmd.Flags().StringVar(&listTag, "tag", "", "Filter by tag")
	listCmd.Flags().StringVar(&listCategory, "category", "", "Filter by category name or ID")
	listCmd.Flags().BoolVar(&listFavorites, "favorites", false, "Show favorites only")

	showCmd.Flags().BoolVar(&showReveal, "reveal", false, "Show secret fields in plain text")
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
}

// addCmd adds a record of any kind
var addCmd = &cobra.Command{
	Use:   "add <kind>",
	Short: "Adds a record",
	Long: `Adds a record to the vault. Secret fields are prompted for without echo.

Kinds: login, note, card, identity, wifi, apikey

Examples:
  lokivault add login --title GitHub --username octocat --url https://github.com
  lokivault add card --title "Travel card" --holder "Jane Doe" --expiry 04/2029
  lokivault add apikey --title Stripe --service stripe --expiry 2027-01-31
  lokivault add note --title "Recovery codes" < codes.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, ok := vault.ParseKind(args[0])
		if !ok {
			return fmt.Errorf("unknown kind %q", args[0])
		}

		// 1. Unlock vault
		session, err := app.unlock(ctx)
		if err != nil {
			return err
		}
		repo := session.Vault()

		// 2. Build the shared header
		header, err := buildHeader(ctx, repo)
		if err != nil {
			return err
		}

		// 3. Build and save the record
		id, err := addRecord(ctx, repo, kind, header)
		app.record(audit.OpRecordSave, err, map[string]string{"kind": string(kind)})
		if err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s '%s' (%s)\n", kind, header.Title, id)
		return nil
	},
}

// buildHeader fills the fields every record shares. New tag names are
// registered in the tag list.
func buildHeader(ctx context.Context, repo *vault.Repository) (vault.Header, error) {
	header := vault.Header{
		Title:      strings.TrimSpace(addTitle),
		IsFavorite: addFavorite,
		Tags:       splitTags(addTags),
	}
	if header.Title == "" {
		return header, errors.New("title must not be empty")
	}
	if addCategory != "" {
		category, err := findCategory(repo, addCategory)
		if err != nil {
			return header, err
		}
		header.CategoryID = category.ID
	}
	if err := repo.EnsureTags(ctx, header.Tags); err != nil {
		return header, err
	}
	return header, nil
}

func addRecord(ctx context.Context, repo *vault.Repository, kind vault.Kind, header vault.Header) (string, error) {
	switch kind {
	case vault.KindLogin:
		password, err := readPassword("Password: ")
		if err != nil {
			return "", err
		}
		saved, err := vault.Save(ctx, repo, vault.LoginItem{
			Header: header, Username: addUsername, Password: password, URL: addURL, Notes: addNotes,
		})
		return saved.ID, err

	case vault.KindNote:
		fmt.Fprint(os.Stderr, "Enter note content (Ctrl+D to finish): ")
		content, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read note: %w", err)
		}
		saved, err := vault.Save(ctx, repo, vault.SecureNote{
			Header: header, Content: strings.TrimRight(string(content), "\n"),
		})
		return saved.ID, err

	case vault.KindCard:
		month, year, err := parseCardExpiry(addExpiry)
		if err != nil {
			return "", err
		}
		number, err := readPassword("Card number: ")
		if err != nil {
			return "", err
		}
		cvv, err := readPassword("CVV: ")
		if err != nil {
			return "", err
		}
		saved, err := vault.Save(ctx, repo, vault.CreditCard{
			Header: header, CardholderName: addHolder, CardNumber: strings.ReplaceAll(number, " ", ""),
			ExpirationMonth: month, ExpirationYear: year, CVV: cvv, Notes: addNotes,
		})
		return saved.ID, err

	case vault.KindIdentity:
		expiry, err := parseDate(addExpiry)
		if err != nil {
			return "", err
		}
		saved, err := vault.Save(ctx, repo, vault.Identity{
			Header: header, FirstName: addFirstName, LastName: addLastName,
			IdentityType: vault.IdentityType(addIDType), IdentityNumber: addIDNumber,
			IssuingCountry: addCountry, ExpiryDate: expiry, PhoneNumber: addPhone, Email: addEmail, Notes: addNotes,
		})
		return saved.ID, err

	case vault.KindWiFi:
		security := vault.WiFiSecurity(addSecurity)
		var password string
		if security != vault.WiFiOpen {
			var err error
			if password, err = readPassword("Wi-Fi password: "); err != nil {
				return "", err
			}
		}
		saved, err := vault.Save(ctx, repo, vault.WiFiPassword{
			Header: header, SSID: addSSID, Password: password, SecurityType: security, Notes: addNotes,
		})
		return saved.ID, err

	case vault.KindAPIKey:
		expiry, err := parseDate(addExpiry)
		if err != nil {
			return "", err
		}
		key, err := readPassword("API key: ")
		if err != nil {
			return "", err
		}
		saved, err := vault.Save(ctx, repo, vault.APIKey{
			Header: header, ServiceName: addService, Key: key, APIType: vault.APIType(addAPIType),
			ExpiryDate: expiry, Notes: addNotes,
		})
		return saved.ID, err
	}
	return "", fmt.Errorf("unknown kind %q", kind)
}

// listCmd lists record summaries
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		// 1. Unlock vault
		session, err := app.unlock(cmd.Context())
		if err != nil {
			return err
		}
		repo := session.Vault()

		// 2. Build filter
		filter := vault.Filter{
			Query:         listQuery,
			SearchContent: true,
			Tag:           listTag,
			FavoritesOnly: listFavorites,
		}
		if listKind != "" {
			kind, ok := vault.ParseKind(listKind)
			if !ok {
				return fmt.Errorf("unknown kind %q", listKind)
			}
			filter.Kind = kind
		}
		if listCategory != "" {
			category, err := findCategory(repo, listCategory)
			if err != nil {
				return err
			}
			filter.CategoryID = category.ID
		}

		items, err := repo.List(filter, time.Now())
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}

		// 3. Display
		if len(items) == 0 {
			fmt.Fprintln(out, "No records found")
			return nil
		}
		for _, item := range items {
			line := fmt.Sprintf("%-8s  %-8s  %s", shortID(item.ID), item.Kind, item.Title)
			if item.IsFavorite {
				line += " ★"
			}
			if item.Detail != "" {
				line += "  " + item.Detail
			}
			if len(item.Tags) > 0 {
				line += fmt.Sprintf(" [%s]", strings.Join(item.Tags, ","))
			}
			if item.Expired {
				line += " (expired)"
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

// showCmd prints one record
var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Shows a record (secret fields masked unless --reveal)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := app.unlock(cmd.Context())
		if err != nil {
			return err
		}
		repo := session.Vault()

		record, err := findRecord(repo, args[0])
		if err != nil {
			return err
		}
		printRecord(cmd.OutOrStdout(), repo, record, showReveal)
		return nil
	},
}

// deleteCmd deletes a record
var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Deletes a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		session, err := app.unlock(ctx)
		if err != nil {
			return err
		}
		repo := session.Vault()

		record, err := findRecord(repo, args[0])
		if err != nil {
			return err
		}
		header := headerOf(record)

		if !deleteForce {
			ok, err := confirm(fmt.Sprintf("Delete %s '%s'?", kindOf(record), header.Title))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}
		}

		err = deleteRecord(ctx, repo, record)
		app.record(audit.OpRecordDelete, err, map[string]string{"kind": string(kindOf(record))})
		if err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s '%s'\n", kindOf(record), header.Title)
		return nil
	},
}

func deleteRecord(ctx context.Context, repo *vault.Repository, record any) error {
	switch r := record.(type) {
	case vault.LoginItem:
		return vault.Delete[vault.LoginItem](ctx, repo, r.ID)
	case vault.SecureNote:
		return vault.Delete[vault.SecureNote](ctx, repo, r.ID)
	case vault.CreditCard:
		return vault.Delete[vault.CreditCard](ctx, repo, r.ID)
	case vault.Identity:
		return vault.Delete[vault.Identity](ctx, repo, r.ID)
	case vault.WiFiPassword:
		return vault.Delete[vault.WiFiPassword](ctx, repo, r.ID)
	case vault.APIKey:
		return vault.Delete[vault.APIKey](ctx, repo, r.ID)
	}
	return fmt.Errorf("unsupported record type %T", record)
}
