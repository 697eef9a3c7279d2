package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lumen1211/drops-farmer/internal/crypto"
)

// ErrNoEnabledAccount is returned when the store holds no account with
// the enabled flag set.
var ErrNoEnabledAccount = errors.New("no enabled account in store")

// Account is one stored farming identity. AuthToken and Cookies are kept
// encrypted at rest.
type Account struct {
	Username        string
	Enabled         bool
	Proxy           string
	AuthToken       string
	Cookies         string
	PriorityGames   []string
	ExcludeGames    []string
	DeviceID        string
	ClientIntegrity string
	ClientVersion   string
}

// Store is the sqlite-backed account registry.
type Store struct {
	db     *sql.DB
	cipher crypto.Cipher
}

func Open(path string, cipher crypto.Cipher) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening account store: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			username TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL DEFAULT 0,
			proxy TEXT NOT NULL DEFAULT '',
			auth_token TEXT NOT NULL DEFAULT '',
			cookies TEXT NOT NULL DEFAULT '',
			priority_games TEXT NOT NULL DEFAULT '[]',
			exclude_games TEXT NOT NULL DEFAULT '[]',
			device_id TEXT NOT NULL DEFAULT '',
			client_integrity TEXT NOT NULL DEFAULT '',
			client_version TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing account store schema: %w", err)
	}

	return &Store{db: db, cipher: cipher}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) encrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	return s.cipher.Encrypt(value)
}

func (s *Store) decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	return s.cipher.Decrypt(value)
}

// Upsert inserts or replaces an account record.
func (s *Store) Upsert(account Account) error {
	authToken, err := s.encrypt(account.AuthToken)
	if err != nil {
		return fmt.Errorf("encrypting auth token: %w", err)
	}
	cookies, err := s.encrypt(account.Cookies)
	if err != nil {
		return fmt.Errorf("encrypting cookies: %w", err)
	}

	priority, err := json.Marshal(account.PriorityGames)
	if err != nil {
		return err
	}
	exclude, err := json.Marshal(account.ExcludeGames)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO accounts (
			username, enabled, proxy, auth_token, cookies,
			priority_games, exclude_games,
			device_id, client_integrity, client_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			enabled = excluded.enabled,
			proxy = excluded.proxy,
			auth_token = excluded.auth_token,
			cookies = excluded.cookies,
			priority_games = excluded.priority_games,
			exclude_games = excluded.exclude_games,
			device_id = excluded.device_id,
			client_integrity = excluded.client_integrity,
			client_version = excluded.client_version
	`,
		account.Username, account.Enabled, account.Proxy, authToken, cookies,
		string(priority), string(exclude),
		account.DeviceID, account.ClientIntegrity, account.ClientVersion,
	)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", account.Username, err)
	}
	return nil
}

const accountColumns = `username, enabled, proxy, auth_token, cookies,
	priority_games, exclude_games, device_id, client_integrity, client_version`

func (s *Store) scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var (
		account            Account
		priority, exclude  string
		authToken, cookies string
	)
	err := row.Scan(
		&account.Username, &account.Enabled, &account.Proxy, &authToken, &cookies,
		&priority, &exclude,
		&account.DeviceID, &account.ClientIntegrity, &account.ClientVersion,
	)
	if err != nil {
		return Account{}, err
	}

	if account.AuthToken, err = s.decrypt(authToken); err != nil {
		return Account{}, fmt.Errorf("decrypting auth token: %w", err)
	}
	if account.Cookies, err = s.decrypt(cookies); err != nil {
		return Account{}, fmt.Errorf("decrypting cookies: %w", err)
	}

	if err := json.Unmarshal([]byte(priority), &account.PriorityGames); err != nil {
		return Account{}, err
	}
	if err := json.Unmarshal([]byte(exclude), &account.ExcludeGames); err != nil {
		return Account{}, err
	}

	return account, nil
}

// Get looks a single account up by username.
func (s *Store) Get(username string) (Account, error) {
	row := s.db.QueryRow("SELECT "+accountColumns+" FROM accounts WHERE username = ?", username)
	account, err := s.scanAccount(row)
	if err != nil {
		return Account{}, fmt.Errorf("reading account %s: %w", username, err)
	}
	return account, nil
}

// List returns every stored account.
func (s *Store) List() ([]Account, error) {
	rows, err := s.db.Query("SELECT " + accountColumns + " FROM accounts ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// FirstEnabled returns the first account with the enabled flag set. The
// reference flow drives exactly one account at a time.
func (s *Store) FirstEnabled() (Account, error) {
	row := s.db.QueryRow("SELECT " + accountColumns + " FROM accounts WHERE enabled = 1 ORDER BY username LIMIT 1")
	account, err := s.scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNoEnabledAccount
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// SetPriorityGames replaces an account's priority-game list.
func (s *Store) SetPriorityGames(username string, games []string) error {
	priority, err := json.Marshal(games)
	if err != nil {
		return err
	}

	res, err := s.db.Exec("UPDATE accounts SET priority_games = ? WHERE username = ?", string(priority), username)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("no account named %s", username)
	}
	return nil
}
