package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"brickradar/internal/cache"
	"brickradar/internal/model"
	"brickradar/internal/sources"
	"brickradar/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	svc   *Service
	db    *gorm.DB
	redis *miniredis.Miniredis

	blCalls *atomic.Int64
	bsCalls *atomic.Int64
	beCalls *atomic.Int64
}

func setup(t *testing.T) *fixture {
	tmpFile := fmt.Sprintf("%s/brickradar_svc_%d.db", t.TempDir(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(tmpFile), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	f := &fixture{
		db:      db,
		redis:   mr,
		blCalls: &atomic.Int64{},
		bsCalls: &atomic.Int64{},
		beCalls: &atomic.Int64{},
	}

	blSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.blCalls.Add(1)
		if r.URL.Query().Get("guide_type") != "" {
			w.Write([]byte(`{"meta":{"code":200},"data":{"avg_price":"849.99","qty_avg_price":"840.10","min_price":"700.00","max_price":"1100.00","currency_code":"USD","price_detail":[]}}`))
			return
		}
		w.Write([]byte(`{"meta":{"code":200},"data":{"name":"Millennium Falcon","category_id":65}}`))
	}))
	t.Cleanup(blSrv.Close)

	bsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.bsCalls.Add(1)
		w.Write([]byte(`{"status":"success","matches":1,"sets":[{"name":"Millennium Falcon","pieces":7541,"minifigs":8,"theme":"Star Wars","year":2017,"rating":4.6,"collections":{"ownedBy":25000,"wantedBy":12000}}]}`))
	}))
	t.Cleanup(bsSrv.Close)

	beSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.beCalls.Add(1)
		w.Write([]byte(`{"data":{"name":"Millennium Falcon","theme":"Star Wars","year":2017,"retail_price_us":849.99,"current_value_new":1200.50,"current_value_used":820.00,"rolling_growth_12months":5.2,"currency":"USD"}}`))
	}))
	t.Cleanup(beSrv.Close)

	bl := sources.NewBrickLinkClient("ck", "cs", "tk", "ts", 5*time.Second)
	bl.SetBaseURL(blSrv.URL)
	bs := sources.NewBrickSetClient("bs-key", 5*time.Second)
	bs.SetBaseURL(bsSrv.URL)
	be := sources.NewBrickEconomyClient("be-key", 5*time.Second)
	be.SetBaseURL(beSrv.URL)

	slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.New(db, slogger)
	ca := cache.New(rdb, 24*time.Hour, time.Hour, slogger)

	f.svc = New(st, ca, nil, bl, bs, be, "USD", slogger)
	return f
}

func (f *fixture) logSources(t *testing.T) []string {
	t.Helper()
	var srcs []string
	require.NoError(t, f.db.Model(&model.QueryLogRecord{}).Order("id").Pluck("source", &srcs).Error)
	return srcs
}

func TestFetchBrickSet(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.FetchBrickSet(ctx, []string{"75192"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Empty(t, res.Warnings)
	assert.NotEmpty(t, res.BatchID)

	row := res.Rows[0]
	assert.Equal(t, "75192-1", row.Set, "bare set numbers get the -1 suffix")
	assert.Equal(t, "Millennium Falcon", row.Columns["Set Name (BrickSet)"])
	assert.EqualValues(t, 7541, row.Columns["Pieces"])
	assert.EqualValues(t, 12000, row.Columns["Users Wanted"])

	assert.Equal(t, []string{"UI:BrickSet:fetch", "BrickSet:getSets", "BrickSet:row"}, f.logSources(t))

	rows, err := f.svc.History(ctx, SourceBrickSet, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Millennium Falcon", rows[0].Payload["Set Name (BrickSet)"])
}

func TestFetchBrickSet_SecondBatchServedFromCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.FetchBrickSet(ctx, []string{"75192-1"})
	require.NoError(t, err)
	_, err = f.svc.FetchBrickSet(ctx, []string{"75192-1"})
	require.NoError(t, err)

	assert.EqualValues(t, 1, f.bsCalls.Load(), "second batch must not reach upstream")

	// Both batches still produce their own history lines.
	rows, err := f.svc.History(ctx, SourceBrickSet, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// The second upstream log entry records the cache hit.
	var recs []model.QueryLogRecord
	require.NoError(t, f.db.Where("source = ?", "BrickSet:getSets").Order("id").Find(&recs).Error)
	require.Len(t, recs, 2)
	assert.False(t, recs[0].CacheHit)
	assert.True(t, recs[1].CacheHit)
}

func TestFetchBrickLink(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.FetchBrickLink(ctx, []string{"75192-1"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Empty(t, res.Warnings)

	cols := res.Rows[0].Columns
	assert.Equal(t, "Millennium Falcon", cols["Name"])
	assert.Equal(t, "849.99", cols["Avg Price"])
	assert.Equal(t, "700.00", cols["Min"])
	assert.Equal(t, "USD", cols["Currency"])

	assert.Equal(t, []string{
		"UI:BrickLink:fetch", "BrickLink:metadata", "BrickLink:price:stock:N", "BrickLink:row",
	}, f.logSources(t))
}

func TestFetchBrickLink_PriceFailureKeepsRow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("guide_type") != "" {
			w.Write([]byte(`{"meta":{"code":"PARAMETER_MISSING_OR_INVALID","description":"bad guide"},"data":[]}`))
			return
		}
		w.Write([]byte(`{"meta":{"code":200},"data":{"name":"Millennium Falcon","category_id":65}}`))
	}))
	defer srv.Close()

	bl := sources.NewBrickLinkClient("ck", "cs", "tk", "ts", 5*time.Second)
	bl.SetBaseURL(srv.URL)
	f.svc.bricklink = bl

	res, err := f.svc.FetchBrickLink(ctx, []string{"75192-1"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "75192-1")

	cols := res.Rows[0].Columns
	assert.Equal(t, "Millennium Falcon", cols["Name"], "metadata survives the price failure")
	assert.Nil(t, cols["Avg Price"])

	// The degraded row is persisted and visible in history.
	rows, err := f.svc.History(ctx, SourceBrickLink, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Payload["Avg Price"])
}

func TestFetchBrickEconomy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.FetchBrickEconomy(ctx, []string{"75192-1"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	cols := res.Rows[0].Columns
	assert.Equal(t, "Millennium Falcon", cols["Name"])
	assert.EqualValues(t, 849.99, cols["Retail Price"])
	assert.EqualValues(t, 1200.50, cols["Current Value (New)"])
	assert.Equal(t, "https://www.brickeconomy.com/set/75192-1", cols["URL"])
}

func TestComputeScores(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.ComputeScores(ctx, []string{"75192-1"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Empty(t, res.Warnings)

	cols := res.Rows[0].Columns
	// 0.4*(7541/1000) + 0.4*4.6 + 0.2*(1200.50/100) = 7.2573
	assert.InDelta(t, 7.26, cols["Score"], 0.001)
	assert.EqualValues(t, 7541, cols["Pieces"])
	assert.EqualValues(t, 1200.50, cols["Current Value"])

	ds, ok := cols["Demand Score"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, ds, 0.0)
	assert.LessOrEqual(t, ds, 10.0)

	rows, err := f.svc.History(ctx, SourceScoring, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestComputeScores_ReusesFetchCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.FetchBrickSet(ctx, []string{"75192-1"})
	require.NoError(t, err)
	_, err = f.svc.FetchBrickEconomy(ctx, []string{"75192-1"})
	require.NoError(t, err)
	_, err = f.svc.ComputeScores(ctx, []string{"75192-1"})
	require.NoError(t, err)

	assert.EqualValues(t, 1, f.bsCalls.Load(), "scoring reuses the cached BrickSet outcome")
	assert.EqualValues(t, 1, f.beCalls.Load(), "scoring reuses the cached BrickEconomy outcome")
}

func TestFetch_NotConfigured(t *testing.T) {
	f := setup(t)
	f.svc.bricklink = nil

	_, err := f.svc.FetchBrickLink(context.Background(), []string{"75192-1"})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestHistory_UnknownSource(t *testing.T) {
	f := setup(t)

	_, err := f.svc.History(context.Background(), "ebay", 0)
	require.Error(t, err)
}

func TestClearToday(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.FetchBrickSet(ctx, []string{"75192-1"})
	require.NoError(t, err)
	require.NoError(t, f.svc.ClearToday(ctx))

	rows, err := f.svc.History(ctx, SourceBrickSet, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	var count int64
	require.NoError(t, f.db.Model(&model.QueryLogRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestClearCache_ForcesRefetch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.FetchBrickSet(ctx, []string{"75192-1"})
	require.NoError(t, err)
	require.NoError(t, f.svc.ClearCache(ctx))
	_, err = f.svc.FetchBrickSet(ctx, []string{"75192-1"})
	require.NoError(t, err)

	assert.EqualValues(t, 2, f.bsCalls.Load())
}

func TestRowTag(t *testing.T) {
	tag, ok := RowTag(SourceBrickLink)
	assert.True(t, ok)
	assert.Equal(t, "BrickLink:row", tag)

	_, ok = RowTag("ebay")
	assert.False(t, ok)
}
