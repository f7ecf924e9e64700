package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/imageq/internal/domain"
	"github.com/dunamismax/imageq/internal/id"
	_ "github.com/lib/pq"
)

const catalogSchemaSQL = `
CREATE TABLE IF NOT EXISTS catalog_records (
	id TEXT PRIMARY KEY,
	bag TEXT NOT NULL UNIQUE,
	department TEXT NOT NULL DEFAULT '',
	project TEXT NOT NULL DEFAULT '',
	locations JSONB NOT NULL,
	derivatives JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, catalogSchemaSQL); err != nil {
		return fmt.Errorf("ensure catalog schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) FindByBag(ctx context.Context, bag string) (domain.CatalogRecord, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, bag, department, project, locations, derivatives, updated_at
		 FROM catalog_records
		 WHERE bag = $1`,
		bag,
	)

	var (
		record          domain.CatalogRecord
		locationsJSON   []byte
		derivativesJSON []byte
	)
	if err := row.Scan(
		&record.ID,
		&record.Bag,
		&record.Department,
		&record.Project,
		&locationsJSON,
		&derivativesJSON,
		&record.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CatalogRecord{}, false, nil
		}
		return domain.CatalogRecord{}, false, fmt.Errorf("query catalog record: %w", err)
	}

	if err := json.Unmarshal(locationsJSON, &record.Locations); err != nil {
		return domain.CatalogRecord{}, false, fmt.Errorf("unmarshal catalog locations: %w", err)
	}
	if err := json.Unmarshal(derivativesJSON, &record.Derivatives); err != nil {
		return domain.CatalogRecord{}, false, fmt.Errorf("unmarshal catalog derivatives: %w", err)
	}

	return record, true, nil
}

func (s *PostgresStore) Create(ctx context.Context, record domain.CatalogRecord) error {
	if record.ID == "" {
		record.ID = id.New()
	}
	locationsJSON, derivativesJSON, err := marshalRecord(record)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO catalog_records (id, bag, department, project, locations, derivatives, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID,
		record.Bag,
		record.Department,
		record.Project,
		locationsJSON,
		derivativesJSON,
		timestampOrNow(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert catalog record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, record domain.CatalogRecord) error {
	locationsJSON, derivativesJSON, err := marshalRecord(record)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE catalog_records
		 SET department = $1, project = $2, locations = $3, derivatives = $4, updated_at = $5
		 WHERE bag = $6`,
		record.Department,
		record.Project,
		locationsJSON,
		derivativesJSON,
		timestampOrNow(record.UpdatedAt),
		record.Bag,
	)
	if err != nil {
		return fmt.Errorf("update catalog record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func marshalRecord(record domain.CatalogRecord) ([]byte, []byte, error) {
	locationsJSON, err := json.Marshal(record.Locations)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal catalog locations: %w", err)
	}
	derivatives := record.Derivatives
	if derivatives == nil {
		derivatives = map[string][]domain.ManifestEntry{}
	}
	derivativesJSON, err := json.Marshal(derivatives)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal catalog derivatives: %w", err)
	}
	return locationsJSON, derivativesJSON, nil
}

func timestampOrNow(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts
}
