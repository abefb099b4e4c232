package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrAccountNotFound is returned by Delete for an unknown id.
var ErrAccountNotFound = errors.New("account not found")

// Account is one set of portal credentials with its delivery target.
type Account struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ContextLabel string `json:"mandant,omitempty"`
	Username     string `json:"username"`
	Password     string `json:"-"`
	APIKey       string `json:"-"`
	SavePath     string `json:"save_path,omitempty"`
}

// HasRemote reports whether invoices go to the accounting API. It takes
// precedence over SavePath.
func (a Account) HasRemote() bool {
	return a.APIKey != ""
}

// Target describes the delivery destination for display.
func (a Account) Target() string {
	switch {
	case a.HasRemote():
		return "accounting API"
	case a.SavePath != "":
		return a.SavePath
	default:
		return "none"
	}
}

// Validate applies the rules of the account form: name and credentials are
// required, and at least one delivery target must be set.
func (a Account) Validate() error {
	var missing []string
	if strings.TrimSpace(a.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(a.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(a.Password) == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("account is missing %s", strings.Join(missing, ", "))
	}
	if a.APIKey == "" && a.SavePath == "" {
		return errors.New("account needs an API key or a save path")
	}
	return nil
}

// Accounts is the account table.
type Accounts struct {
	db *sql.DB
}

// List returns every account in insertion order.
func (s *Accounts) List(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, context_label, username, password, api_key, save_path
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var (
			a                       Account
			label, apiKey, savePath sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Name, &label, &a.Username, &a.Password, &apiKey, &savePath); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.ContextLabel = label.String
		a.APIKey = apiKey.String
		a.SavePath = savePath.String
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// Add validates and inserts a, returning the new id.
func (s *Accounts) Add(ctx context.Context, a Account) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (name, context_label, username, password, api_key, save_path)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Name, nullable(a.ContextLabel), a.Username, a.Password, nullable(a.APIKey), nullable(a.SavePath))
	if err != nil {
		return 0, fmt.Errorf("failed to add account: %w", err)
	}
	return res.LastInsertId()
}

func (s *Accounts) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete account %d: %w", id, err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
