package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresCatalog reads types and the newest schema version from PostgreSQL.
//
//	docintel.document_types(name text primary key, description text, active bool)
//	docintel.extraction_schemas(document_type text, version int, schema jsonb)
type PostgresCatalog struct {
	db *sql.DB
}

// NewPostgresCatalog opens its own pool on databaseURL.
func NewPostgresCatalog(databaseURL string) (*PostgresCatalog, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	return &PostgresCatalog{db: db}, nil
}

// NewPostgresCatalogFromDB reuses an existing pool.
func NewPostgresCatalogFromDB(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// DocumentTypes implements Provider.
func (c *PostgresCatalog) DocumentTypes(ctx context.Context) ([]DocumentType, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name, COALESCE(description, '')
		FROM docintel.document_types
		WHERE active
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("query document types: %w", err)
	}
	defer rows.Close()

	var out []DocumentType
	for rows.Next() {
		var t DocumentType
		if err := rows.Scan(&t.Name, &t.Description); err != nil {
			return nil, fmt.Errorf("scan document type: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Schema implements Provider.
func (c *PostgresCatalog) Schema(ctx context.Context, documentType string) (map[string]interface{}, error) {
	var raw []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT schema
		FROM docintel.extraction_schemas
		WHERE document_type = $1
		ORDER BY version DESC
		LIMIT 1
	`, documentType).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSchemaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query schema for %s: %w", documentType, err)
	}

	var schema map[string]interface{}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parse schema for %s: %w", documentType, err)
	}
	return schema, nil
}

// Close closes the pool.
func (c *PostgresCatalog) Close() error {
	return c.db.Close()
}
