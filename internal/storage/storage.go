package storage

import "context"

// Namespaced keys used by the engine. Each key holds one whole serialized
// value that is always replaced in full, never patched field by field.
const (
	KeyReviewHistory = "repo-review:review_history"
	KeyCredentials   = "repo-review:managed_credentials"
)

// KV is the durable local key/value store shared by the credential pool and
// the history log. Implementations overwrite the whole value on Set.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
