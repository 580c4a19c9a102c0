package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"
)

// Payload is the JSON row payload persisted with a result record. Shapes vary
// per source and across schema versions; readers must tolerate missing keys.
type Payload map[string]any

// Scan implements sql.Scanner.
func (p *Payload) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	return json.Unmarshal(bytes, p)
}

// Value implements driver.Valuer. Serialized with compact separators so
// stored payloads stay byte-stable.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	return json.Marshal(p)
}

// QueryLogRecord is one append-only audit row: a logical query attempt,
// whether served from cache or fetched live. Immutable once written.
type QueryLogRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TsUTC      time.Time `gorm:"column:ts_utc;type:datetime;not null;index:idx_log_ts" json:"ts_utc"`
	Source     string    `gorm:"type:varchar(100);not null;index:idx_log_source" json:"source"`
	SetNumber  string    `gorm:"type:varchar(50);not null" json:"set_number"`
	ParamsHash string    `gorm:"type:varchar(16);not null" json:"params_hash"`
	CacheHit   bool      `gorm:"not null" json:"cache_hit"`
	Summary    string    `gorm:"type:varchar(300)" json:"summary"`
}

// TableName keeps the historical table name.
func (QueryLogRecord) TableName() string {
	return "query_log"
}

// ResultRecord is the latest materialized payload for one
// (source, set_number, params_hash) key. Upserted in place on re-fetch.
type ResultRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TsUTC      time.Time `gorm:"column:ts_utc;type:datetime;not null;index:idx_result_ts" json:"ts_utc"`
	Source     string    `gorm:"type:varchar(100);not null;uniqueIndex:uk_result_key" json:"source"`
	SetNumber  string    `gorm:"type:varchar(50);not null;uniqueIndex:uk_result_key" json:"set_number"`
	ParamsHash string    `gorm:"type:varchar(16);not null;uniqueIndex:uk_result_key" json:"params_hash"`
	Payload    Payload   `gorm:"type:json;not null" json:"payload"`
}

// TableName keeps the historical table name.
func (ResultRecord) TableName() string {
	return "query_results"
}

// SummaryLimit is the maximum stored length of a query log summary.
const SummaryLimit = 300

// TruncateSummary clips a free-text summary to at most SummaryLimit bytes
// without splitting a multi-byte rune.
func TruncateSummary(s string) string {
	if len(s) <= SummaryLimit {
		return s
	}
	cut := SummaryLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Now returns the current UTC time at second precision, the granularity the
// query log and result store record.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
