package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/callscribe/callscribe/internal/config"
	"github.com/callscribe/callscribe/internal/protocol"
	_ "modernc.org/sqlite"
)

// SessionRecord is one saved transcription session.
type SessionRecord struct {
	SessionID    string    `json:"session_id"`
	StartedAt    time.Time `json:"started_at"`
	Duration     float64   `json:"duration"`
	SegmentCount int       `json:"segment_count"`
	Language     string    `json:"language"`
	TXTPath      string    `json:"txt"`
	SRTPath      string    `json:"srt"`
	JSONPath     string    `json:"json"`
	CreatedAt    time.Time `json:"created"`
}

// Store wraps the SQLite-backed transcript archive.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the transcript store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("transcript store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("transcript store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    duration_seconds REAL NOT NULL,
    segment_count INTEGER NOT NULL,
    language TEXT,
    txt_path TEXT,
    srt_path TEXT,
    json_path TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS segments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    text TEXT NOT NULL,
    start_seconds REAL NOT NULL,
    end_seconds REAL NOT NULL,
    language TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_segments_session_start ON segments(session_id, start_seconds);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSession records a stopped session and its segment sequence.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord, segments []protocol.Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := s.clock().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at, duration_seconds, segment_count, language, txt_path, srt_path, json_path, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   duration_seconds=excluded.duration_seconds,
		   segment_count=excluded.segment_count,
		   txt_path=excluded.txt_path,
		   srt_path=excluded.srt_path,
		   json_path=excluded.json_path`,
		rec.SessionID, rec.StartedAt.UTC(), rec.Duration, rec.SegmentCount,
		rec.Language, rec.TXTPath, rec.SRTPath, rec.JSONPath, now)
	if err != nil {
		return err
	}

	for _, seg := range segments {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO segments(session_id, text, start_seconds, end_seconds, language, created_at)
			 VALUES(?, ?, ?, ?, ?, ?)`,
			rec.SessionID, seg.Text, seg.Start, seg.End, seg.Language, seg.Timestamp.UTC())
		if err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

// ListSessions returns saved sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, started_at, duration_seconds, segment_count, language, txt_path, srt_path, json_path, created_at
		 FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var started, created string
		if err := rows.Scan(&rec.SessionID, &started, &rec.Duration, &rec.SegmentCount,
			&rec.Language, &rec.TXTPath, &rec.SRTPath, &rec.JSONPath, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
			rec.StartedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = ts
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SessionSegments returns the ordered segment sequence of one session.
func (s *Store) SessionSegments(ctx context.Context, sessionID string) ([]protocol.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT text, start_seconds, end_seconds, language, created_at
		 FROM segments WHERE session_id = ? ORDER BY start_seconds ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []protocol.Segment
	for rows.Next() {
		var seg protocol.Segment
		var created string
		if err := rows.Scan(&seg.Text, &seg.Start, &seg.End, &seg.Language, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			seg.Timestamp = ts
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// Prune applies configured retention.
func (s *Store) Prune(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
