package safety

import (
	"context"

	"github.com/marcus-qen/stagee/internal/adapters/secretstore"
)

// SecretResolver resolves secret references for step inputs. It never
// caches a resolved value beyond the single invocation it was requested
// for, and callers must route the returned value only through a
// masking-wrapped logger.
type SecretResolver struct {
	client secretstore.Client
}

// NewSecretResolver builds a SecretResolver over client.
func NewSecretResolver(client secretstore.Client) *SecretResolver {
	return &SecretResolver{client: client}
}

// Resolve fetches the current value for ref.
func (r *SecretResolver) Resolve(ctx context.Context, ref secretstore.Ref) (string, error) {
	return r.client.Resolve(ctx, ref)
}
