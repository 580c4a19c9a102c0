package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brickradar/internal/cache"
	"brickradar/internal/model"
	"brickradar/internal/pkg/metrics"
	"brickradar/internal/pkg/ratelimit"
	"brickradar/internal/scoring"
	"brickradar/internal/sources"
	"brickradar/internal/store"

	"github.com/google/uuid"
)

// Source identifiers accepted by the fetch and history operations.
const (
	SourceBrickLink    = "bricklink"
	SourceBrickSet     = "brickset"
	SourceBrickEconomy = "brickeconomy"
	SourceScoring      = "scoring"
)

// rowTagBySource maps a public source identifier to the result-store tag its
// table rows are persisted under.
var rowTagBySource = map[string]string{
	SourceBrickLink:    "BrickLink:row",
	SourceBrickSet:     "BrickSet:row",
	SourceBrickEconomy: "BrickEconomy:row",
	SourceScoring:      "Scoring:row",
}

// HistoryColumns lists, per source, the column order a history table renders
// with. An empty window still answers with this schema so clients can draw a
// stable table.
var HistoryColumns = map[string][]string{
	SourceBrickLink:    {"Time (UTC)", "Set", "Name", "Avg Price", "Qty Avg Price", "Min", "Max", "Currency"},
	SourceBrickSet:     {"Time (UTC)", "Set", "Set Name (BrickSet)", "Pieces", "Minifigs", "Theme", "Year", "Rating", "Users Owned", "Users Wanted"},
	SourceBrickEconomy: {"Time (UTC)", "Set", "Name", "Theme", "Year", "Retail Price", "Current Value (New)", "Current Value (Used)", "Growth % (12m)", "Currency", "URL"},
	SourceScoring:      {"Time (UTC)", "Set", "Pieces", "Rating", "Current Value", "Score", "Demand Score"},
}

// RowTag resolves a public source identifier to its storage tag. The second
// return reports whether the identifier is known.
func RowTag(source string) (string, bool) {
	tag, ok := rowTagBySource[source]
	return tag, ok
}

// Row is one rendered table line: the set number plus the source's columns.
type Row struct {
	Set     string        `json:"set"`
	Columns model.Payload `json:"columns"`
}

// BatchResult is the outcome of one fetch batch. Warnings collect per-item
// upstream failures; a warning never removes the item's row.
type BatchResult struct {
	BatchID  string   `json:"batch_id"`
	Rows     []Row    `json:"rows"`
	Warnings []string `json:"warnings"`
}

// Service drives the per-item pipeline: UI log entry, rate-limit gate, cached
// upstream fetch, row assembly, then the transactional log+store write. Items
// are processed sequentially; one item's upstream failure becomes a warning
// and the batch continues. A storage failure aborts the batch, since rows
// fetched but not recorded would be invisible to history.
type Service struct {
	store        *store.Store
	cache        *cache.Cache
	limiter      *ratelimit.Limiter
	bricklink    *sources.BrickLinkClient
	brickset     *sources.BrickSetClient
	brickeconomy *sources.BrickEconomyClient
	constants    scoring.Constants
	currency     string
	logger       *slog.Logger
}

// New assembles a service. limiter may be nil (no outbound throttling);
// clients for unconfigured sources may be nil, their operations then fail
// with a configuration error.
func New(st *store.Store, ca *cache.Cache, limiter *ratelimit.Limiter,
	bl *sources.BrickLinkClient, bs *sources.BrickSetClient, be *sources.BrickEconomyClient,
	currency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if currency == "" {
		currency = "USD"
	}
	return &Service{
		store:        st,
		cache:        ca,
		limiter:      limiter,
		bricklink:    bl,
		brickset:     bs,
		brickeconomy: be,
		constants:    scoring.DefaultConstants(),
		currency:     currency,
		logger:       logger,
	}
}

// ErrNotConfigured reports an operation whose upstream credentials are absent.
var ErrNotConfigured = errors.New("source not configured")

// gate blocks until the rate limiter admits a call to source. A nil or
// disabled limiter admits immediately; limiter transport errors are logged
// and fail open, since throttling is a courtesy, not a correctness property.
func (s *Service) gate(ctx context.Context, source string) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, source)
	if err != nil {
		if errors.Is(err, ratelimit.ErrRedisClientNil) {
			return nil
		}
		s.logger.Warn("rate limiter unavailable, failing open", "source", source, "error", err)
		return nil
	}
	if ok {
		return nil
	}
	metrics.RateLimitDeferredTotal.WithLabelValues(source).Inc()
	return s.limiter.Wait(ctx, source)
}

// FetchBrickLink fetches metadata and the stock/New price guide for each set
// and persists one BrickLink row per item.
func (s *Service) FetchBrickLink(ctx context.Context, sets []string) (*BatchResult, error) {
	if s.bricklink == nil {
		return nil, fmt.Errorf("bricklink: %w", ErrNotConfigured)
	}
	res := newBatchResult()
	log := s.logger.With("batch_id", res.BatchID, "source", SourceBrickLink)
	log.Info("fetch batch started", "sets", len(sets))

	fp := s.bricklink.CredentialFingerprint()
	priceQuery := sources.PriceQuery{GuideType: "stock", NewOrUsed: "N"}

	for _, raw := range sets {
		set := sources.NormalizeSetNumber(raw)
		if err := s.store.LogQuery(ctx, "UI:BrickLink:fetch", set, map[string]any{"action": "fetch"}, true, "requested"); err != nil {
			return nil, err
		}
		if err := s.gate(ctx, SourceBrickLink); err != nil {
			return nil, err
		}

		meta, metaHit := s.cache.GetOrFetch(ctx, cache.Key{
			Op:          "BrickLink:metadata",
			Params:      map[string]any{"set_number": set},
			Credentials: fp,
		}, func(ctx context.Context) sources.Outcome {
			return s.bricklink.FetchMetadata(ctx, set)
		})
		if meta.Ok() {
			summary, _ := meta.Get("Set Name").(string)
			if err := s.store.LogQuery(ctx, "BrickLink:metadata", set, map[string]any{"set_number": set}, metaHit, summary); err != nil {
				return nil, err
			}
		} else {
			res.warn(set, meta.Err)
		}

		price, priceHit := s.cache.GetOrFetch(ctx, cache.Key{
			Op:          "BrickLink:price",
			Params:      withSetNumber(priceQuery.Params(), set),
			Credentials: fp,
		}, func(ctx context.Context) sources.Outcome {
			return s.bricklink.FetchPrice(ctx, set, priceQuery)
		})

		var payload model.Payload
		var summary string
		if price.Ok() {
			priceSource := fmt.Sprintf("BrickLink:price:%s:%s", priceQuery.GuideType, priceQuery.NewOrUsed)
			summary = fmt.Sprintf("avg=%v", price.Get("avg_price"))
			if err := s.store.LogQuery(ctx, priceSource, set, priceQuery.Params(), priceHit, summary); err != nil {
				return nil, err
			}
			payload = model.Payload{
				"Name":          meta.Get("Set Name"),
				"Avg Price":     price.Get("avg_price"),
				"Qty Avg Price": price.Get("qty_avg_price"),
				"Min":           price.Get("min_price"),
				"Max":           price.Get("max_price"),
				"Currency":      price.Get("currency_code"),
			}
		} else {
			res.warn(set, price.Err)
			summary = errSummary(price.Err)
			payload = model.Payload{
				"Name":          meta.Get("Set Name"),
				"Avg Price":     nil,
				"Qty Avg Price": nil,
				"Min":           nil,
				"Max":           nil,
				"Currency":      nil,
			}
		}

		err := s.store.RecordFetch(ctx, "BrickLink:row", set,
			map[string]any{"guide": priceQuery.GuideType, "cond": priceQuery.NewOrUsed},
			metaHit && priceHit, summary, payload)
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, Row{Set: set, Columns: payload})
	}

	log.Info("fetch batch finished", "rows", len(res.Rows), "warnings", len(res.Warnings))
	return res, nil
}

// FetchBrickSet fetches catalog and community data for each set and persists
// one BrickSet row per item.
func (s *Service) FetchBrickSet(ctx context.Context, sets []string) (*BatchResult, error) {
	if s.brickset == nil {
		return nil, fmt.Errorf("brickset: %w", ErrNotConfigured)
	}
	res := newBatchResult()
	log := s.logger.With("batch_id", res.BatchID, "source", SourceBrickSet)
	log.Info("fetch batch started", "sets", len(sets))

	for _, raw := range sets {
		set := sources.NormalizeSetNumber(raw)
		if err := s.store.LogQuery(ctx, "UI:BrickSet:fetch", set, map[string]any{"action": "fetch"}, true, "requested"); err != nil {
			return nil, err
		}
		out, hit, err := s.brickSetData(ctx, set)
		if err != nil {
			return nil, err
		}
		if !out.Ok() {
			res.warn(set, out.Err)
		}

		payload := pickFields(out, "Set Name (BrickSet)", "Pieces", "Minifigs", "Theme", "Year", "Rating", "Users Owned", "Users Wanted")
		if err := s.store.RecordFetch(ctx, "BrickSet:row", set, map[string]any{}, hit, summaryOf(out, "Set Name (BrickSet)"), payload); err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, Row{Set: set, Columns: payload})
	}

	log.Info("fetch batch finished", "rows", len(res.Rows), "warnings", len(res.Warnings))
	return res, nil
}

// FetchBrickEconomy fetches valuation data for each set and persists one
// BrickEconomy row per item.
func (s *Service) FetchBrickEconomy(ctx context.Context, sets []string) (*BatchResult, error) {
	if s.brickeconomy == nil {
		return nil, fmt.Errorf("brickeconomy: %w", ErrNotConfigured)
	}
	res := newBatchResult()
	log := s.logger.With("batch_id", res.BatchID, "source", SourceBrickEconomy)
	log.Info("fetch batch started", "sets", len(sets))

	for _, raw := range sets {
		set := sources.NormalizeSetNumber(raw)
		if err := s.store.LogQuery(ctx, "UI:BrickEconomy:fetch", set, map[string]any{"action": "fetch"}, true, "requested"); err != nil {
			return nil, err
		}
		out, hit, err := s.brickEconomyData(ctx, set)
		if err != nil {
			return nil, err
		}
		if !out.Ok() {
			res.warn(set, out.Err)
		}

		payload := pickFields(out, "Name", "Theme", "Year", "Retail Price", "Current Value (New)", "Current Value (Used)", "Growth % (12m)", "Currency", "URL")
		if err := s.store.RecordFetch(ctx, "BrickEconomy:row", set, map[string]any{"currency": s.currency}, hit, summaryOf(out, "Name"), payload); err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, Row{Set: set, Columns: payload})
	}

	log.Info("fetch batch finished", "rows", len(res.Rows), "warnings", len(res.Warnings))
	return res, nil
}

// scoringParams tags scoring rows with the formula they were computed under,
// so a formula change starts a fresh history key instead of overwriting rows
// computed differently.
var scoringParams = map[string]any{"formula": "0.4p/1000+0.4r+0.2v/100"}

// ComputeScores pulls BrickSet and BrickEconomy data (through the same cache
// the fetch tabs use), derives the purchase score and demand metrics per set,
// and persists one Scoring row per item. Missing or failed upstream data
// coerces to zero contributions rather than failing the item.
func (s *Service) ComputeScores(ctx context.Context, sets []string) (*BatchResult, error) {
	res := newBatchResult()
	log := s.logger.With("batch_id", res.BatchID, "source", SourceScoring)
	log.Info("score batch started", "sets", len(sets))

	for _, raw := range sets {
		set := sources.NormalizeSetNumber(raw)
		if err := s.store.LogQuery(ctx, "UI:Scoring:fetch", set, map[string]any{"action": "fetch"}, true, "requested"); err != nil {
			return nil, err
		}

		var bs, be sources.Outcome
		if s.brickset != nil {
			var err error
			bs, _, err = s.brickSetData(ctx, set)
			if err != nil {
				return nil, err
			}
			if !bs.Ok() {
				res.warn(set, bs.Err)
			}
		}
		if s.brickeconomy != nil {
			var err error
			be, _, err = s.brickEconomyData(ctx, set)
			if err != nil {
				return nil, err
			}
			if !be.Ok() {
				res.warn(set, be.Err)
			}
		}

		value := be.Get("Current Value (New)")
		if value == nil {
			value = be.Get("Current Value")
		}
		m := s.constants.Compute(scoring.Inputs{
			Pieces: bs.Get("Pieces"),
			Rating: bs.Get("Rating"),
			Value:  value,
			Owned:  bs.Get("Users Owned"),
			Wanted: bs.Get("Users Wanted"),
		})

		payload := model.Payload{
			"Pieces":          bs.Get("Pieces"),
			"Rating":          bs.Get("Rating"),
			"Current Value":   value,
			"Score":           scoring.Round2(m.Score),
			"Demand Score":    scoring.Round2(m.DemandScore),
			"Demand Pressure": m.DemandPressure,
			"Wanted Ratio":    m.WantedRatio,
			"Demand Index":    m.DemandIndex,
		}
		summary := fmt.Sprintf("score=%.2f", m.Score)
		if err := s.store.RecordFetch(ctx, "Scoring:row", set, scoringParams, false, summary, payload); err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, Row{Set: set, Columns: payload})
	}

	log.Info("score batch finished", "rows", len(res.Rows), "warnings", len(res.Warnings))
	return res, nil
}

// brickSetData performs the rate-limited, cached BrickSet lookup and writes
// its query-log entry. The returned error is a storage failure.
func (s *Service) brickSetData(ctx context.Context, set string) (sources.Outcome, bool, error) {
	if err := s.gate(ctx, SourceBrickSet); err != nil {
		return sources.Outcome{}, false, err
	}
	out, hit := s.cache.GetOrFetch(ctx, cache.Key{
		Op:     "BrickSet:getSets",
		Params: map[string]any{"set_number": set, "extendedData": 1},
	}, func(ctx context.Context) sources.Outcome {
		return s.brickset.FetchSet(ctx, set)
	})

	summary := summaryOf(out, "Set Name (BrickSet)")
	if err := s.store.LogQuery(ctx, "BrickSet:getSets", set, map[string]any{"extendedData": 1}, hit, summary); err != nil {
		return sources.Outcome{}, false, err
	}
	return out, hit, nil
}

// brickEconomyData performs the rate-limited, cached BrickEconomy lookup and
// writes its query-log entry. The returned error is a storage failure.
func (s *Service) brickEconomyData(ctx context.Context, set string) (sources.Outcome, bool, error) {
	if err := s.gate(ctx, SourceBrickEconomy); err != nil {
		return sources.Outcome{}, false, err
	}
	out, hit := s.cache.GetOrFetch(ctx, cache.Key{
		Op:     "BrickEconomy:set",
		Params: map[string]any{"set_number": set, "currency": s.currency},
	}, func(ctx context.Context) sources.Outcome {
		return s.brickeconomy.FetchSet(ctx, set, s.currency)
	})

	summary := summaryOf(out, "Name")
	if err := s.store.LogQuery(ctx, "BrickEconomy:set", set, map[string]any{"currency": s.currency}, hit, summary); err != nil {
		return sources.Outcome{}, false, err
	}
	return out, hit, nil
}

// History returns the persisted rows for a source. days <= 0 selects the
// current UTC day; otherwise the rolling window of the last N days.
func (s *Service) History(ctx context.Context, source string, days int) ([]store.HistoryRow, error) {
	tag, ok := RowTag(source)
	if !ok {
		return nil, fmt.Errorf("unknown source %q", source)
	}
	start, end := historyWindow(days)
	return s.store.History(ctx, store.Exact(tag), start, end)
}

// ClearToday removes log and result rows written during the current UTC day.
func (s *Service) ClearToday(ctx context.Context) error {
	start, end := store.TodayWindow(time.Now())
	return s.store.ClearWindow(ctx, start, end)
}

// ClearRolling removes log and result rows from the last N days.
func (s *Service) ClearRolling(ctx context.Context, days int) error {
	start, end := store.RollingWindow(time.Now(), days)
	return s.store.ClearWindow(ctx, start, end)
}

// ClearCache drops every cached upstream outcome. Persisted history is not
// touched.
func (s *Service) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

func historyWindow(days int) (time.Time, time.Time) {
	if days <= 0 {
		return store.TodayWindow(time.Now())
	}
	return store.RollingWindow(time.Now(), days)
}

func newBatchResult() *BatchResult {
	return &BatchResult{
		BatchID:  uuid.NewString(),
		Rows:     make([]Row, 0),
		Warnings: make([]string, 0),
	}
}

func (r *BatchResult) warn(set string, err error) {
	r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %s", set, errSummary(err)))
}

func errSummary(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// summaryOf renders a short log summary for an outcome: the named field on
// success, the error text otherwise.
func summaryOf(out sources.Outcome, field string) string {
	if !out.Ok() {
		return errSummary(out.Err)
	}
	s, _ := out.Get(field).(string)
	return s
}

// pickFields copies the named outcome fields into a payload. Fields the
// outcome lacks come through as explicit nulls so every row of a source
// carries the same columns.
func pickFields(out sources.Outcome, names ...string) model.Payload {
	p := make(model.Payload, len(names))
	for _, name := range names {
		p[name] = out.Get(name)
	}
	return p
}

func withSetNumber(params map[string]any, set string) map[string]any {
	merged := make(map[string]any, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged["set_number"] = set
	return merged
}
