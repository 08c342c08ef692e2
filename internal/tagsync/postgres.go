package tagsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresMappingTableName = "linkding_sync_mapping"
	postgresMappingKey       = "default"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresMappingStore keeps the mapping snapshot in a single-row Postgres
// table, replaced with an upsert on every save.
type PostgresMappingStore struct {
	dsn        string
	tableName  string
	mappingKey string
	openDB     sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresMappingStore(dsn string) (*PostgresMappingStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres DSN is required", ErrInvalidInput)
	}
	return &PostgresMappingStore{
		dsn:        dsn,
		tableName:  postgresMappingTableName,
		mappingKey: postgresMappingKey,
		openDB:     sql.Open,
	}, nil
}

func (s *PostgresMappingStore) Load() (Mapping, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT snapshot FROM %s WHERE mapping_key = $1", postgresQuoteIdentifier(s.tableName))
	var payload string
	err := s.db.QueryRowContext(ctx, query, s.mappingKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot mappingSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, err
	}
	mapping := Mapping{}
	for key, entry := range snapshot.Entries {
		mapping[key] = entry
	}
	return mapping, nil
}

func (s *PostgresMappingStore) Save(mapping Mapping) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if mapping == nil {
		mapping = Mapping{}
	}
	payload, err := json.Marshal(mappingSnapshot{Entries: mapping})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (mapping_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (mapping_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`, postgresQuoteIdentifier(s.tableName))
	_, err = s.db.ExecContext(ctx, query, s.mappingKey, string(payload))
	return err
}

func (s *PostgresMappingStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresMappingStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		create := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				mapping_key TEXT PRIMARY KEY,
				snapshot    TEXT NOT NULL,
				updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, create); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
