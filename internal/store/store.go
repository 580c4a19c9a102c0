// Package store persists the query log and result store and reconstructs
// history views by joining them. The query log is append-only; the result
// store keeps exactly one row per (source, set number, params hash) key.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brickradar/internal/model"
	"brickradar/internal/pkg/metrics"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StorageError marks persistence failures, which callers must distinguish
// from upstream API errors: a fetch may have succeeded but gone unrecorded.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is a persistence failure.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Selector scopes reads to an exact source or a whole source family.
type Selector struct {
	Source string
	Prefix bool
}

// Exact selects one source string.
func Exact(source string) Selector {
	return Selector{Source: source}
}

// Prefix selects every source starting with the given prefix, e.g. all
// "BrickLink:price:" variants.
func Prefix(prefix string) Selector {
	return Selector{Source: prefix, Prefix: true}
}

func (sel Selector) scope(q *gorm.DB, column string) *gorm.DB {
	if sel.Source == "" {
		return q
	}
	if sel.Prefix {
		return q.Where(column+" LIKE ?", sel.Source+"%")
	}
	return q.Where(column+" = ?", sel.Source)
}

// Store wraps the relational tables.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New creates a store over an opened database.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// LogQuery appends one audit record with the current UTC timestamp. Records
// are immutable once written.
func (s *Store) LogQuery(ctx context.Context, source, setNumber string, params map[string]any, cacheHit bool, summary string) error {
	rec := model.QueryLogRecord{
		TsUTC:      model.Now(),
		Source:     source,
		SetNumber:  setNumber,
		ParamsHash: model.HashParams(params),
		CacheHit:   cacheHit,
		Summary:    model.TruncateSummary(summary),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		metrics.QueryLogWritesTotal.WithLabelValues("error").Inc()
		return storageErr("log query", err)
	}
	metrics.QueryLogWritesTotal.WithLabelValues("ok").Inc()
	return nil
}

// SaveResult writes or overwrites the materialized payload for the key.
// Last write wins; only the latest payload is kept.
func (s *Store) SaveResult(ctx context.Context, source, setNumber string, params map[string]any, payload model.Payload) error {
	err := s.upsertResult(s.db.WithContext(ctx), source, setNumber, params, payload)
	if err != nil {
		metrics.ResultUpsertsTotal.WithLabelValues("error").Inc()
		return storageErr("save result", err)
	}
	metrics.ResultUpsertsTotal.WithLabelValues("ok").Inc()
	return nil
}

func (s *Store) upsertResult(tx *gorm.DB, source, setNumber string, params map[string]any, payload model.Payload) error {
	rec := model.ResultRecord{
		TsUTC:      model.Now(),
		Source:     source,
		SetNumber:  setNumber,
		ParamsHash: model.HashParams(params),
		Payload:    payload,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source"}, {Name: "set_number"}, {Name: "params_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"ts_utc", "payload",
		}),
	}).Create(&rec).Error
}

// RecordFetch persists a fetch outcome: the result upsert and its paired
// query log record run in one transaction, so a stored row can never be
// orphaned from the log entry the History join needs.
func (s *Store) RecordFetch(ctx context.Context, source, setNumber string, params map[string]any, cacheHit bool, summary string, payload model.Payload) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.upsertResult(tx, source, setNumber, params, payload); err != nil {
			return err
		}
		rec := model.QueryLogRecord{
			TsUTC:      model.Now(),
			Source:     source,
			SetNumber:  setNumber,
			ParamsHash: model.HashParams(params),
			CacheHit:   cacheHit,
			Summary:    model.TruncateSummary(summary),
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		metrics.ResultUpsertsTotal.WithLabelValues("error").Inc()
		return storageErr("record fetch", err)
	}
	metrics.ResultUpsertsTotal.WithLabelValues("ok").Inc()
	metrics.QueryLogWritesTotal.WithLabelValues("ok").Inc()
	return nil
}

// queryLogBatchSize bounds one page of the windowed log iteration.
const queryLogBatchSize = 500

// QueryLogWindow streams log records with timestamp in [start, end),
// newest-first, optionally scoped by selector. fn returning false stops the
// iteration. The cursor is keyset-based, so the walk is restartable and never
// loads the whole window at once.
func (s *Store) QueryLogWindow(ctx context.Context, sel Selector, start, end time.Time, fn func(model.QueryLogRecord) bool) error {
	cursorTs := end
	cursorID := uint64(0)
	first := true

	for {
		q := s.db.WithContext(ctx).
			Where("ts_utc >= ?", start).
			Order("ts_utc DESC, id DESC").
			Limit(queryLogBatchSize)
		q = sel.scope(q, "source")
		if first {
			q = q.Where("ts_utc < ?", cursorTs)
		} else {
			q = q.Where("ts_utc < ? OR (ts_utc = ? AND id < ?)", cursorTs, cursorTs, cursorID)
		}

		var batch []model.QueryLogRecord
		if err := q.Find(&batch).Error; err != nil {
			return storageErr("query log window", err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, rec := range batch {
			if !fn(rec) {
				return nil
			}
		}

		last := batch[len(batch)-1]
		cursorTs = last.TsUTC
		cursorID = last.ID
		first = false

		if len(batch) < queryLogBatchSize {
			return nil
		}
	}
}

// ClearWindow deletes query log and result store rows whose timestamp falls
// in [start, end). Both tables are cleared in one transaction.
func (s *Store) ClearWindow(ctx context.Context, start, end time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ts_utc >= ? AND ts_utc < ?", start, end).
			Delete(&model.QueryLogRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("ts_utc >= ? AND ts_utc < ?", start, end).
			Delete(&model.ResultRecord{}).Error
	})
	return storageErr("clear window", err)
}

// TodayWindow returns the current UTC calendar day as [start, end).
func TodayWindow(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

// RollingWindow returns the last N days ending now as [start, end).
func RollingWindow(now time.Time, days int) (time.Time, time.Time) {
	now = now.UTC()
	return now.Add(-time.Duration(days) * 24 * time.Hour), now.Add(time.Second)
}
