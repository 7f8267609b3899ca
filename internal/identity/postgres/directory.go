package postgres

import (
	"context"
	"database/sql"
	"errors"

	"libpresence/internal/identity"
)

// Directory persists the person roster in Postgres.
type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) FindBySuffix(ctx context.Context, role identity.Role, suffix string) ([]identity.Person, error) {
	// LIMIT 2 is enough: the resolver only cares about zero, one or many.
	rows, err := d.db.QueryContext(ctx, `
		SELECT reg_no, name, role, COALESCE(branch,''), COALESCE(year,''), COALESCE(email,'')
		FROM persons
		WHERE role = $1 AND reg_no LIKE '%' || $2
		LIMIT 2
	`, string(role), suffix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []identity.Person
	for rows.Next() {
		var p identity.Person
		if err := rows.Scan(&p.RegNo, &p.Name, &p.Role, &p.Branch, &p.Year, &p.Email); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (d *Directory) FindExact(ctx context.Context, role identity.Role, code string) (*identity.Person, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT reg_no, name, role, COALESCE(branch,''), COALESCE(year,''), COALESCE(email,'')
		FROM persons
		WHERE role = $1 AND reg_no = $2
	`, string(role), code)
	var p identity.Person
	if err := row.Scan(&p.RegNo, &p.Name, &p.Role, &p.Branch, &p.Year, &p.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (d *Directory) Upsert(ctx context.Context, p identity.Person) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO persons (reg_no, name, role, branch, year, email)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (reg_no, role) DO UPDATE SET
			name = EXCLUDED.name,
			branch = EXCLUDED.branch,
			year = EXCLUDED.year,
			email = EXCLUDED.email,
			updated_at = NOW()
	`, p.RegNo, p.Name, string(p.Role), p.Branch, p.Year, p.Email)
	return err
}

// CheckPassword verifies an admin credential pair.
func (d *Directory) CheckPassword(ctx context.Context, id, pass string) (bool, error) {
	var found string
	err := d.db.QueryRowContext(ctx,
		`SELECT id FROM admin_passwords WHERE id = $1 AND pass = $2`, id, pass,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
