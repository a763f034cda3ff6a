package coordinator

import "sync"

// Credentials are remembered between runs so a participant can reconnect.
type Credentials struct {
	DisplayName string `json:"displayName"`
	SessionID   string `json:"sessionId"`
	PlayerID    string `json:"playerId"`
}

func (c Credentials) resumable() bool {
	return c.DisplayName != "" && c.SessionID != "" && c.PlayerID != ""
}

// CredentialStore persists Credentials. Load on a fresh store returns the
// zero value and no error.
type CredentialStore interface {
	Load() (Credentials, error)
	Save(Credentials) error
}

// MemoryCredentials keeps credentials for the life of the process.
type MemoryCredentials struct {
	mu sync.Mutex
	c  Credentials
}

func (m *MemoryCredentials) Load() (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c, nil
}

func (m *MemoryCredentials) Save(c Credentials) error {
	m.mu.Lock()
	m.c = c
	m.mu.Unlock()
	return nil
}
