package ragstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// GetSecret looks up a single (plugin_name, scope, user_id, key) secret
// row. It does not implement the "prefer user scope, fall back to system
// scope" rule from spec.md §4.10 itself: callers (internal/pluginhost)
// make two calls, one per scope, and choose between them.
func (p *Postgres) GetSecret(ctx context.Context, pluginName, scope, userID, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM plugin_secrets WHERE plugin_name = $1 AND scope = $2 AND user_id = $3 AND key = $4`,
		pluginName, scope, userID, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSecret upserts a secret at (plugin_name, scope, user_id, key).
func (p *Postgres) SetSecret(ctx context.Context, pluginName, scope, userID, key, value string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO plugin_secrets (plugin_name, scope, user_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (plugin_name, scope, user_id, key) DO UPDATE SET value = $5, updated_at = now()`,
		pluginName, scope, userID, key, value,
	)
	return err
}
