package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/dbx"
	"github.com/dmitrijs2005/goterm/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectProfile = `SELECT id, name, group_name, host, port, username, auth_type,
	private_key_path, use_keyring, known_hosts_policy FROM profiles`

func scanProfile(row interface{ Scan(...any) error }) (models.Profile, error) {
	var p models.Profile
	var useKeyring int
	err := row.Scan(&p.ID, &p.Name, &p.Group, &p.Host, &p.Port, &p.Username,
		&p.AuthType, &p.PrivateKeyPath, &useKeyring, &p.KnownHostsPolicy)
	p.UseKeyring = useKeyring != 0
	return p, err
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Profile, error) {
	rows, err := r.db.QueryContext(ctx, selectProfile+` ORDER BY group_name, name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select profiles: %w", err)
	}
	defer rows.Close()

	result := make([]models.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profile rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (models.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, selectProfile+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, fmt.Errorf("%w: profile %s", common.ErrNotFound, id)
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("failed to get profile[%s]: %w", id, err)
	}
	return p, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, p models.Profile) error {
	useKeyring := 0
	if p.UseKeyring {
		useKeyring = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, group_name, host, port, username, auth_type,
			private_key_path, use_keyring, known_hosts_policy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			group_name = excluded.group_name,
			host = excluded.host,
			port = excluded.port,
			username = excluded.username,
			auth_type = excluded.auth_type,
			private_key_path = excluded.private_key_path,
			use_keyring = excluded.use_keyring,
			known_hosts_policy = excluded.known_hosts_policy,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.Name, p.Group, p.Host, p.Port, p.Username, string(p.AuthType),
		p.PrivateKeyPath, useKeyring, string(p.KnownHostsPolicy))
	if err != nil {
		return fmt.Errorf("failed to save profile[%s]: %w", p.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile[%s]: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: profile %s", common.ErrNotFound, id)
	}
	return nil
}
