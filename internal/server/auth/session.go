package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"
)

const sessionName = "feedback_admin"

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidSession  = errors.New("invalid or expired session")
)

// Config holds the admin credential and session key material.
type Config struct {
	Password     string
	PasswordHash string
	HashKey      []byte
	BlockKey     []byte
	TTL          time.Duration
}

// Session is handed to the dashboard after a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionData is the content sealed inside a session token.
type SessionData struct {
	ID        string
	IssuedAt  int64
	ExpiresAt int64
}

// Manager checks the admin password and issues signed, encrypted,
// expiring session tokens. Tokens carry their own expiry; nothing is
// stored server-side.
type Manager struct {
	hash []byte
	sc   *securecookie.SecureCookie
	ttl  time.Duration
	now  func() time.Time
}

// NewManager prepares the password hash and session codec. Missing session
// keys are generated per process, which invalidates sessions on restart.
func NewManager(cfg Config) (*Manager, error) {
	hash := []byte(cfg.PasswordHash)
	if len(hash) == 0 {
		if cfg.Password == "" {
			return nil, errors.New("admin password not configured")
		}
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
	} else if _, err := bcrypt.Cost(hash); err != nil {
		return nil, fmt.Errorf("invalid ADMIN_PASSWORD_HASH: %w", err)
	}

	hashKey, err := sessionKey(cfg.HashKey, 64, "SESSION_HASH_KEY")
	if err != nil {
		return nil, err
	}
	blockKey, err := sessionKey(cfg.BlockKey, 32, "SESSION_BLOCK_KEY")
	if err != nil {
		return nil, err
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(ttl.Seconds()))

	return &Manager{
		hash: hash,
		sc:   sc,
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

// Login verifies password and returns a new session.
func (m *Manager) Login(password string) (*Session, error) {
	if err := bcrypt.CompareHashAndPassword(m.hash, []byte(password)); err != nil {
		return nil, ErrInvalidPassword
	}

	now := m.now()
	data := SessionData{
		ID:        uuid.NewString(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(m.ttl).Unix(),
	}
	token, err := m.sc.Encode(sessionName, data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	return &Session{Token: token, ExpiresAt: time.Unix(data.ExpiresAt, 0).UTC()}, nil
}

// Validate decodes token and checks its expiry.
func (m *Manager) Validate(token string) (*SessionData, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	var data SessionData
	if err := m.sc.Decode(sessionName, token, &data); err != nil {
		return nil, ErrInvalidSession
	}
	if m.now().Unix() >= data.ExpiresAt {
		return nil, ErrInvalidSession
	}
	return &data, nil
}

func sessionKey(key []byte, length int, name string) ([]byte, error) {
	if len(key) > 0 {
		if name == "SESSION_BLOCK_KEY" && len(key) != 16 && len(key) != 24 && len(key) != 32 {
			return nil, fmt.Errorf("%s must be 16, 24 or 32 bytes, got %d", name, len(key))
		}
		return key, nil
	}
	slog.Warn("session key not configured, generated a random one; admin sessions end on restart", "key", name)
	key = securecookie.GenerateRandomKey(length)
	if key == nil {
		return nil, fmt.Errorf("failed to generate %s", name)
	}
	return key, nil
}
