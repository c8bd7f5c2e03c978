package postgres

import (
	"context"

	"github.com/clearpathsec/bastion/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PasskeyStore is the pgx-backed PasskeyStore.
type PasskeyStore struct {
	pool *pgxpool.Pool
}

func NewPasskeyStore(pool *pgxpool.Pool) *PasskeyStore {
	return &PasskeyStore{pool: pool}
}

func (s *PasskeyStore) Save(ctx context.Context, passkey *model.Passkey) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO passkeys (credential_id, user_id, material, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (credential_id) DO UPDATE SET material = EXCLUDED.material`,
		passkey.CredentialID, passkey.UserID, passkey.Material, passkey.CreatedAt,
	)
	return mapError(err, "passkey save")
}

func (s *PasskeyStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Passkey, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT credential_id, user_id, material, created_at
		FROM passkeys WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, mapError(err, "passkey listing")
	}
	defer rows.Close()

	var out []*model.Passkey
	for rows.Next() {
		var k model.Passkey
		if err := rows.Scan(&k.CredentialID, &k.UserID, &k.Material, &k.CreatedAt); err != nil {
			return nil, mapError(err, "passkey scan")
		}
		out = append(out, &k)
	}
	return out, mapError(rows.Err(), "passkey listing")
}
