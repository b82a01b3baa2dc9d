package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryIdentity struct {
	email    string
	hash     []byte
	metadata map[string]string
}

// MemoryDirectory keeps identities in process. Passwords are stored as bcrypt
// hashes exactly as in Postgres.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[string]memoryIdentity
	byEmail map[string]string

	tokens TokenVerifier
	cost   int
}

// NewMemoryDirectory builds a directory. tokens may be nil when no caller
// resolution is needed. cost 0 means bcrypt.DefaultCost.
func NewMemoryDirectory(tokens TokenVerifier, cost int) *MemoryDirectory {
	return &MemoryDirectory{
		byID:    map[string]memoryIdentity{},
		byEmail: map[string]string{},
		tokens:  tokens,
		cost:    cost,
	}
}

func (d *MemoryDirectory) CreatePrincipal(ctx context.Context, email, password string, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash, err := hashPassword(password, d.cost)
	if err != nil {
		return "", err
	}
	key := normalizeEmail(email)

	d.mu.Lock()
	defer d.mu.Unlock()
	if id, taken := d.byEmail[key]; taken {
		return "", &DuplicateEmailError{Email: email, ExistingID: id}
	}
	id := uuid.NewString()
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	d.byID[id] = memoryIdentity{email: key, hash: hash, metadata: md}
	d.byEmail[key] = id
	return id, nil
}

func (d *MemoryDirectory) CallerIdentity(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := verifyToken(d.tokens, token)
	if err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.byID[id]; !ok {
		return "", ErrUnauthenticated
	}
	return id, nil
}

func (d *MemoryDirectory) SetPassword(ctx context.Context, principalID, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hash, err := hashPassword(password, d.cost)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ident, ok := d.byID[principalID]
	if !ok {
		return ErrUnknownPrincipal
	}
	ident.hash = hash
	d.byID[principalID] = ident
	return nil
}

func (d *MemoryDirectory) Authenticate(ctx context.Context, email, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.RLock()
	id, ok := d.byEmail[normalizeEmail(email)]
	ident := d.byID[id]
	d.mu.RUnlock()
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := checkPassword(ident.hash, password); err != nil {
		return "", err
	}
	return id, nil
}

// Count reports how many identities exist.
func (d *MemoryDirectory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}
