// Package audit persists the cluster's change history to durable storage
// for later inspection, standing in for the teacher's request/response
// audit trail in this domain.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ruvnet/swimring/internal/cluster"
)

// PostgresSink subscribes to a registry's change feed and records every
// committed change as a row, giving the cluster's membership history a
// home outside process memory.
type PostgresSink struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresSink opens dsn and ensures the change-history table exists.
func NewPostgresSink(dsn string, logger *zap.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: pinging database: %w", err)
	}

	sink := &PostgresSink{db: db, logger: logger}
	if err := sink.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *PostgresSink) createTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS member_changes (
			id SERIAL PRIMARY KEY,
			member VARCHAR(255) NOT NULL,
			clock BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL,
			metadata_known BOOLEAN NOT NULL,
			observed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_member_changes_member ON member_changes(member);
	`)
	if err != nil {
		return fmt.Errorf("audit: creating table: %w", err)
	}
	return nil
}

// Record persists one committed change; the agent calls it for every
// value received from cluster.Registry.Changes. It returns no error;
// failures are logged and dropped, since the registry's own state is the
// source of truth.
func (s *PostgresSink) Record(m cluster.Member) {
	_, err := s.db.Exec(
		`INSERT INTO member_changes (member, clock, status, metadata_known, observed_at) VALUES ($1, $2, $3, $4, $5)`,
		m.Name, m.Clock(), m.Status().String(), m.MetadataValue().Known(), time.Now(),
	)
	if err != nil {
		s.logger.Error("failed to record member change", zap.String("member", m.Name), zap.Error(err))
	}
}

// History returns the most recent rows recorded for name, newest first.
func (s *PostgresSink) History(name string, limit int) ([]ChangeRecord, error) {
	rows, err := s.db.Query(
		`SELECT member, clock, status, metadata_known, observed_at FROM member_changes WHERE member = $1 ORDER BY observed_at DESC LIMIT $2`,
		name, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: querying history for %s: %w", name, err)
	}
	defer rows.Close()

	var out []ChangeRecord
	for rows.Next() {
		var rec ChangeRecord
		if err := rows.Scan(&rec.Member, &rec.Clock, &rec.Status, &rec.MetadataKnown, &rec.ObservedAt); err != nil {
			return nil, fmt.Errorf("audit: scanning history row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the underlying database connection.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// ChangeRecord is one row of recorded member-change history.
type ChangeRecord struct {
	Member        string
	Clock         uint64
	Status        string
	MetadataKnown bool
	ObservedAt    time.Time
}
