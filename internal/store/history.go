package store

import (
	"context"
	"time"

	"brickradar/internal/model"
	"brickradar/internal/pkg/metrics"
)

// HistoryRow is one line of a history view: the query event joined with the
// stored payload for its key. Payload shapes vary across schema versions;
// absent fields stay absent rather than becoming zeros.
type HistoryRow struct {
	Time      time.Time     `json:"time" gorm:"column:ts_utc"`
	Source    string        `json:"source" gorm:"column:source"`
	SetNumber string        `json:"set_number" gorm:"column:set_number"`
	Payload   model.Payload `json:"payload" gorm:"column:payload"`
}

// History reconstructs a windowed, source-scoped table of past results
// without contacting upstream APIs: an inner join of query log and result
// store on (source, set_number, params_hash), the log timestamp driving the
// window, newest-first.
//
// One row is produced per log event, so repeated identical queries re-surface
// the same stored payload. A result row with no matching log entry never
// appears; RecordFetch's transactional pairing keeps such orphans from being
// written in the first place.
func (s *Store) History(ctx context.Context, sel Selector, start, end time.Time) ([]HistoryRow, error) {
	q := s.db.WithContext(ctx).
		Table("query_log AS l").
		Select("l.ts_utc, l.source, l.set_number, r.payload").
		Joins("INNER JOIN query_results AS r ON r.source = l.source AND r.set_number = l.set_number AND r.params_hash = l.params_hash").
		Where("l.ts_utc >= ? AND l.ts_utc < ?", start, end).
		Order("l.ts_utc DESC, l.id DESC")
	q = sel.scope(q, "l.source")

	rows := make([]HistoryRow, 0)
	if err := q.Scan(&rows).Error; err != nil {
		return nil, storageErr("history", err)
	}

	metrics.HistoryReadsTotal.Inc()
	return rows, nil
}
