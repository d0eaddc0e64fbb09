package database

import (
	"database/sql"
	"time"
)

// UpsertRegion creates a region or renames an existing one with the same slug.
func (db *DB) UpsertRegion(slug, name string) (int64, error) {
	_, err := db.conn.Exec(
		`INSERT INTO regions (slug, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET name = excluded.name`,
		slug, name, formatTime(time.Now()),
	)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := db.conn.QueryRow("SELECT id FROM regions WHERE slug = ?", slug).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetRegion returns a region by ID, or nil if it does not exist.
func (db *DB) GetRegion(regionID int64) (*Region, error) {
	return scanRegion(db.conn.QueryRow(
		"SELECT id, slug, name, created_at FROM regions WHERE id = ?", regionID,
	))
}

// GetRegionBySlug returns a region by slug, or nil if it does not exist.
func (db *DB) GetRegionBySlug(slug string) (*Region, error) {
	return scanRegion(db.conn.QueryRow(
		"SELECT id, slug, name, created_at FROM regions WHERE slug = ?", slug,
	))
}

// ListRegions returns all regions ordered by slug.
func (db *DB) ListRegions() ([]Region, error) {
	rows, err := db.conn.Query("SELECT id, slug, name, created_at FROM regions ORDER BY slug")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []Region
	for rows.Next() {
		var r Region
		var created string
		if err := rows.Scan(&r.ID, &r.Slug, &r.Name, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(created)
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

func scanRegion(row *sql.Row) (*Region, error) {
	var r Region
	var created string
	if err := row.Scan(&r.ID, &r.Slug, &r.Name, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	r.CreatedAt = parseTime(created)
	return &r, nil
}
