package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	EnvSessionID = "IGCRAWLER_SESSION_ID"
	EnvCSRFToken = "IGCRAWLER_CSRF_TOKEN"
	EnvUserID    = "IGCRAWLER_DS_USER_ID"
	EnvUserAgent = "IGCRAWLER_USER_AGENT"
)

// EnvironmentStore is a read-only CredentialStore over IGCRAWLER_*
// variables, which may also come from a .env file
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve builds an account from the environment. The variables carry no
// username, so the one asked for is used, or "default".
func (e *EnvironmentStore) Retrieve(username string) (*Account, error) {
	if !e.Exists(username) {
		return nil, ErrCredentialsNotFound
	}
	if username == "" {
		username = "default"
	}

	return &Account{
		Username:     username,
		SessionID:    os.Getenv(EnvSessionID),
		CSRFToken:    os.Getenv(EnvCSRFToken),
		UserID:       os.Getenv(EnvUserID),
		UserAgent:    os.Getenv(EnvUserAgent),
		LastModified: time.Now(),
	}, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(username string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(username string) bool {
	return os.Getenv(EnvSessionID) != "" && os.Getenv(EnvCSRFToken) != ""
}
