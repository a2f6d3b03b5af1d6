package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"repo-review-dashboard/internal/metrics"
	"repo-review-dashboard/internal/storage"
	"repo-review-dashboard/internal/types"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// Purpose tags what a credential grants access to.
type Purpose string

const (
	PurposeRepoAccess  Purpose = "repository-access"
	PurposeModelAccess Purpose = "model-access"
)

// Credential is one stored access token. Secret is held in the clear in
// memory for the current process and obfuscated at rest.
type Credential struct {
	ID               string
	DisplayName      string
	Purpose          Purpose
	Secret           string
	RateLimitedUntil time.Time // zero means not limited
}

// Masked renders the secret for display: fixed-length prefix and suffix,
// never the full material.
func (c Credential) Masked() string {
	const keep = 4
	if len(c.Secret) <= keep*2 {
		return strings.Repeat("•", len(c.Secret))
	}
	return c.Secret[:keep] + strings.Repeat("•", 20) + c.Secret[len(c.Secret)-keep:]
}

// persistedCredential is the at-rest record shape. The secret field is
// injected separately in obfuscated form; RateLimitedUntil is epoch millis.
type persistedCredential struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"displayName"`
	Purpose            string `json:"purpose"`
	Secret             string `json:"secret,omitempty"`
	RateLimitedUntilMS int64  `json:"rateLimitedUntil,omitempty"`
}

// Pool stores credentials in insertion order and rotates selection past
// rate-limited entries. All mutations persist the whole list; a failed write
// is reported but the in-memory pool stays authoritative for this process.
type Pool struct {
	mu    sync.Mutex
	kv    storage.KV
	creds []Credential
	now   func() time.Time
}

// NewPool loads any persisted credential list from kv. Corrupt persisted data
// is logged and treated as an empty pool.
func NewPool(ctx context.Context, kv storage.KV) (*Pool, error) {
	p := &Pool{kv: kv, now: time.Now}

	data, err := kv.Get(ctx, storage.KeyCredentials)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if len(data) == 0 {
		return p, nil
	}

	var records []persistedCredential
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("credential list corrupt, starting empty",
			"error", &types.CorruptDataError{Key: storage.KeyCredentials, Err: err})
		return p, nil
	}

	for _, r := range records {
		secret, err := deobfuscate(r.Secret)
		if err != nil {
			slog.Warn("skipping credential with unreadable secret", "id", r.ID, "error", err)
			continue
		}
		c := Credential{
			ID:          r.ID,
			DisplayName: r.DisplayName,
			Purpose:     Purpose(r.Purpose),
			Secret:      secret,
		}
		if r.RateLimitedUntilMS > 0 {
			c.RateLimitedUntil = time.UnixMilli(r.RateLimitedUntilMS)
		}
		p.creds = append(p.creds, c)
	}
	return p, nil
}

// List returns all stored credentials in insertion order.
func (p *Pool) List() []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Credential, len(p.creds))
	copy(out, p.creds)
	return out
}

// Add stores a new credential with a fresh opaque id. Empty name or secret is
// rejected before any state changes. A persistence failure is returned
// alongside the credential; the in-memory add has already happened.
func (p *Pool) Add(ctx context.Context, name string, purpose Purpose, secret string) (Credential, error) {
	if strings.TrimSpace(name) == "" {
		return Credential{}, types.NewValidationError("name", "must not be empty")
	}
	if secret == "" {
		return Credential{}, types.NewValidationError("secret", "must not be empty")
	}
	if purpose != PurposeRepoAccess && purpose != PurposeModelAccess {
		return Credential{}, types.NewValidationError("purpose", fmt.Sprintf("unknown purpose %q", purpose))
	}

	c := Credential{
		ID:          uuid.NewString(),
		DisplayName: name,
		Purpose:     purpose,
		Secret:      secret,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = append(p.creds, c)
	return c, p.persistLocked(ctx)
}

// Remove deletes a credential by id. Removing an unknown id is a no-op.
func (p *Pool) Remove(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.creds[:0]
	removed := false
	for _, c := range p.creds {
		if c.ID == id {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	p.creds = kept
	if !removed {
		return nil
	}
	return p.persistLocked(ctx)
}

// SelectActive returns the first credential of the purpose whose rate-limit
// stamp is unset or lapsed. The second return is false when every candidate
// is cooling down (or none exist); callers fall back to a default path or fail.
func (p *Pool) SelectActive(purpose Purpose) (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, c := range p.creds {
		if c.Purpose != purpose {
			continue
		}
		if c.RateLimitedUntil.IsZero() || !c.RateLimitedUntil.After(now) {
			metrics.CredentialRotations.WithLabelValues(string(purpose), "selected").Inc()
			return c, true
		}
	}
	metrics.CredentialRotations.WithLabelValues(string(purpose), "exhausted").Inc()
	return Credential{}, false
}

// MarkRateLimited records a cool-down for the credential. SelectActive skips
// it until the stamp lapses.
func (p *Pool) MarkRateLimited(ctx context.Context, id string, until time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.creds {
		if p.creds[i].ID == id {
			p.creds[i].RateLimitedUntil = until
			metrics.CredentialRateLimits.Inc()
			slog.Info("credential rate limited", "id", id, "until", until)
			return p.persistLocked(ctx)
		}
	}
	return nil
}

// persistLocked writes the whole list under the credentials key with secrets
// obfuscated. Caller holds p.mu.
func (p *Pool) persistLocked(ctx context.Context) error {
	records := make([]persistedCredential, len(p.creds))
	for i, c := range p.creds {
		records[i] = persistedCredential{
			ID:          c.ID,
			DisplayName: c.DisplayName,
			Purpose:     string(c.Purpose),
		}
		if !c.RateLimitedUntil.IsZero() {
			records[i].RateLimitedUntilMS = c.RateLimitedUntil.UnixMilli()
		}
	}

	data, err := json.Marshal(records)
	if err != nil {
		return &types.StorageError{Op: "marshal credentials", Err: err}
	}

	// Secrets never pass through the struct marshal; they are stamped into
	// the serialized array in obfuscated form only.
	for i, c := range p.creds {
		data, err = sjson.SetBytes(data, fmt.Sprintf("%d.secret", i), obfuscate(c.Secret))
		if err != nil {
			return &types.StorageError{Op: "stamp secret", Err: err}
		}
	}

	if err := p.kv.Set(ctx, storage.KeyCredentials, data); err != nil {
		slog.Error("persist credentials failed, in-memory pool unchanged", "error", err)
		return &types.StorageError{Op: "persist credentials", Err: err}
	}
	return nil
}
