// Package usage records who asked the server for what, and how much it produced.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nghyane/medistream/internal/config"
	log "github.com/nghyane/medistream/internal/logging"
)

// Record is one served request.
type Record struct {
	Subject      string
	Kind         string
	Provider     string
	Model        string
	RequestedAt  time.Time
	PromptTokens int64
	OutputTokens int64
	OutputChars  int64
	Failed       bool
}

// Summary aggregates the records of one subject.
type Summary struct {
	Subject      string
	Requests     int64
	Failed       int64
	PromptTokens int64
	OutputTokens int64
	OutputChars  int64
	LastRequest  time.Time
}

// Persister writes records to SQLite through an async batched queue.
type Persister struct {
	db            *sql.DB
	recordChan    chan Record
	flushChan     chan chan struct{}
	flushTicker   *time.Ticker
	wg            sync.WaitGroup
	stopOnce      sync.Once
	stopChan      chan struct{}
	batchSize     int
	flushInterval time.Duration
	retentionDays int
	cleanupTicker *time.Ticker
	dbPath        string
}

const (
	defaultBatchSize         = 50
	defaultFlushInterval     = 5 * time.Second
	defaultRetentionDays     = 90
	defaultChannelBufferSize = 1000
)

// NewPersister opens (or creates) the database at dbPath and starts the writer and
// retention workers.
func NewPersister(dbPath string, batchSize, flushIntervalSecs, retentionDays int) (*Persister, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dbPath, err := config.ExpandPath(dbPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := time.Duration(flushIntervalSecs) * time.Second
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}

	p := &Persister{
		db:            db,
		recordChan:    make(chan Record, defaultChannelBufferSize),
		flushChan:     make(chan chan struct{}),
		flushTicker:   time.NewTicker(flushInterval),
		stopChan:      make(chan struct{}),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retentionDays: retentionDays,
		cleanupTicker: time.NewTicker(24 * time.Hour),
		dbPath:        dbPath,
	}

	p.wg.Add(2)
	go p.writeLoop()
	go p.cleanupLoop()

	return p, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject TEXT NOT NULL,
		kind TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		requested_at TIMESTAMP NOT NULL,
		failed BOOLEAN NOT NULL DEFAULT 0,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		output_chars INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_usage_requested_at ON usage_records(requested_at);
	CREATE INDEX IF NOT EXISTS idx_usage_subject ON usage_records(subject);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	return migrateSchema(db)
}

// migrateSchema adds columns introduced after the first release. "duplicate column
// name" means the column already exists.
func migrateSchema(db *sql.DB) error {
	migrations := []string{
		"output_tokens INTEGER NOT NULL DEFAULT 0",
	}
	for _, colDef := range migrations {
		_, err := db.Exec("ALTER TABLE usage_records ADD COLUMN " + colDef)
		if err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration failed for [%s]: %w", colDef, err)
		}
		log.Infof("Added column %s to usage_records table", strings.Fields(colDef)[0])
	}
	return nil
}

// Enqueue queues a record without blocking; the record is dropped when the queue
// is full.
func (p *Persister) Enqueue(record Record) {
	if p == nil {
		return
	}
	if record.RequestedAt.IsZero() {
		record.RequestedAt = time.Now()
	}
	select {
	case p.recordChan <- record:
	default:
		log.Warnf("Usage persistence queue full, dropping record for %s/%s", record.Subject, record.Kind)
	}
}

// Flush writes every record queued before the call.
func (p *Persister) Flush(ctx context.Context) error {
	if p == nil {
		return nil
	}
	done := make(chan struct{})
	select {
	case p.flushChan <- done:
	case <-p.stopChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Persister) writeLoop() {
	defer p.wg.Done()

	batch := make([]Record, 0, p.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.writeBatch(batch); err != nil {
			log.Errorf("Failed to write usage batch: %v", err)
		}
		batch = batch[:0]
	}
	drain := func() {
		for {
			select {
			case record := <-p.recordChan:
				batch = append(batch, record)
				if len(batch) >= p.batchSize {
					flush()
				}
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case record := <-p.recordChan:
			batch = append(batch, record)
			if len(batch) >= p.batchSize {
				flush()
			}
		case done := <-p.flushChan:
			drain()
			close(done)
		case <-p.flushTicker.C:
			flush()
		case <-p.stopChan:
			drain()
			return
		}
	}
}

func (p *Persister) writeBatch(records []Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_records (
			subject, kind, provider, model, requested_at, failed,
			prompt_tokens, output_tokens, output_chars
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.Subject, r.Kind, r.Provider, r.Model, r.RequestedAt.UTC(), r.Failed,
			r.PromptTokens, r.OutputTokens, r.OutputChars,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	log.Debugf("usage: wrote %d records", len(records))
	return nil
}

// Summary returns the totals for subject. A subject without records yields a zero
// Summary and no error.
func (p *Persister) Summary(ctx context.Context, subject string) (Summary, error) {
	s := Summary{Subject: subject}
	if p == nil {
		return s, nil
	}
	var last sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(failed), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(output_chars), 0),
			MAX(requested_at)
		FROM usage_records WHERE subject = ?
	`, subject).Scan(&s.Requests, &s.Failed, &s.PromptTokens, &s.OutputTokens, &s.OutputChars, &last)
	if err != nil {
		return s, fmt.Errorf("usage summary: %w", err)
	}
	if last.Valid {
		s.LastRequest = parseTimestamp(last.String)
	}
	return s, nil
}

// parseTimestamp reads the text form SQLite returns for aggregated timestamps.
func parseTimestamp(v string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (p *Persister) cleanupLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.cleanupTicker.C:
			if err := p.cleanup(); err != nil {
				log.Errorf("Failed to cleanup old usage records: %v", err)
			}
		case <-p.stopChan:
			return
		}
	}
}

// cleanup removes records older than the retention period.
func (p *Persister) cleanup() error {
	return p.deleteBefore(time.Now().AddDate(0, 0, -p.retentionDays))
}

func (p *Persister) deleteBefore(cutoff time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := p.db.ExecContext(ctx, `DELETE FROM usage_records WHERE requested_at < ?`, cutoff.UTC())
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		log.Infof("Cleaned up %d usage records older than %d days", n, p.retentionDays)
	}
	return nil
}

// Stop flushes pending writes and closes the database.
func (p *Persister) Stop() error {
	if p == nil {
		return nil
	}

	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.flushTicker.Stop()
		p.cleanupTicker.Stop()
		p.wg.Wait()
		if p.db != nil {
			err = p.db.Close()
		}
	})
	return err
}

// DBPath returns the filesystem path to the SQLite database.
func (p *Persister) DBPath() string {
	if p == nil {
		return ""
	}
	return p.dbPath
}
