package mysqlprofiles

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

const selectProfile = `SELECT id, name, host, port, username, database_name, connection_type,
	ssh_profile_id, tls_mode, tls_ca_file, tls_cert_file, tls_key_file FROM mysql_profiles`

func scanProfile(row interface{ Scan(...any) error }) (models.MySQLProfile, error) {
	var p models.MySQLProfile
	err := row.Scan(&p.ID, &p.Name, &p.Host, &p.Port, &p.Username, &p.Database,
		&p.ConnectionType, &p.SSHProfileID, &p.TLS.Mode, &p.TLS.CAFile, &p.TLS.CertFile, &p.TLS.KeyFile)
	return p, err
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.MySQLProfile, error) {
	rows, err := r.db.QueryContext(ctx, selectProfile+` ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select mysql profiles: %w", err)
	}
	defer rows.Close()

	result := make([]models.MySQLProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mysql profile row: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mysql profile rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (models.MySQLProfile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, selectProfile+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.MySQLProfile{}, fmt.Errorf("%w: mysql profile %s", common.ErrNotFound, id)
	}
	if err != nil {
		return models.MySQLProfile{}, fmt.Errorf("failed to get mysql profile[%s]: %w", id, err)
	}
	return p, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, p models.MySQLProfile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mysql_profiles (id, name, host, port, username, database_name, connection_type,
			ssh_profile_id, tls_mode, tls_ca_file, tls_cert_file, tls_key_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			host = excluded.host,
			port = excluded.port,
			username = excluded.username,
			database_name = excluded.database_name,
			connection_type = excluded.connection_type,
			ssh_profile_id = excluded.ssh_profile_id,
			tls_mode = excluded.tls_mode,
			tls_ca_file = excluded.tls_ca_file,
			tls_cert_file = excluded.tls_cert_file,
			tls_key_file = excluded.tls_key_file,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.Name, p.Host, p.Port, p.Username, p.Database, string(p.ConnectionType),
		p.SSHProfileID, string(p.TLS.Mode), p.TLS.CAFile, p.TLS.CertFile, p.TLS.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to save mysql profile[%s]: %w", p.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mysql_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mysql profile[%s]: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: mysql profile %s", common.ErrNotFound, id)
	}
	return nil
}
