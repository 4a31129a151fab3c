// Package sqlite stores document vectors in an SQLite table and scores them
// in process. The default DSN keeps the database in memory. Each Storage owns
// its own table, so several index generations can share one database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ghgrag/internal/domain"
	"ghgrag/internal/vectorstore"
)

const schema = `CREATE TABLE IF NOT EXISTS %s (
    position INTEGER PRIMARY KEY,
    doc_id   TEXT NOT NULL,
    content  TEXT NOT NULL,
    metadata TEXT NOT NULL,
    dim      INTEGER NOT NULL,
    vector   TEXT NOT NULL
)`

// Storage implements vectorstore.Storage on database/sql.
type Storage struct {
	db        *sql.DB
	table     string
	dimension int
}

// Open opens dsn with the modernc sqlite driver.
func Open(dsn string) (*Storage, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// an in-memory database exists per connection
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	table := "row_vectors_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return &Storage{db: db, table: table}, nil
}

// Table is the name of the table holding this generation's vectors.
func (s *Storage) Table() string { return s.table }

func (s *Storage) createTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(schema, s.table)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	if err := s.createTable(ctx); err != nil {
		return err
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, docs []domain.Document, vectors [][]float64) error {
	if len(docs) != len(vectors) {
		return errors.New("documents and vectors length mismatch")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(position)+1, 0) FROM "+s.table).Scan(&next); err != nil {
		return fmt.Errorf("next position: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO "+s.table+"(position, doc_id, content, metadata, dim, vector) VALUES(?,?,?,?,?,?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, d := range docs {
		if len(vectors[i]) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return err
		}
		vec, err := json.Marshal(vectors[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, next+i, d.ID, d.Content, string(meta), len(vectors[i]), string(vec)); err != nil {
			return fmt.Errorf("insert vector: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Storage) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT position, doc_id, content, metadata, vector FROM "+s.table+" WHERE dim = ? ORDER BY position", len(vector))
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var (
			pos                         int
			id, content, metaJSON, vecJ string
		)
		if err := rows.Scan(&pos, &id, &content, &metaJSON, &vecJ); err != nil {
			return nil, err
		}
		var vec []float64
		if err := json.Unmarshal([]byte(vecJ), &vec); err != nil {
			return nil, fmt.Errorf("decode vector %s: %w", id, err)
		}
		var meta map[string]string
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("decode metadata %s: %w", id, err)
		}
		results = append(results, domain.SearchResult{
			Document: domain.Document{ID: id, Content: content, Metadata: meta},
			Score:    vectorstore.Cosine(vec, vector),
			Position: pos,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vectorstore.Rank(results, topK), nil
}

func (s *Storage) Clear(ctx context.Context) error {
	if err := s.createTable(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+s.table)
	return err
}

// Close drops this generation's table and closes the database.
func (s *Storage) Close() error {
	_, dropErr := s.db.Exec("DROP TABLE IF EXISTS " + s.table)
	return errors.Join(dropErr, s.db.Close())
}
