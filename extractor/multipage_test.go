package extractor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-parser/internal/types"
	"auction-parser/store"
)

func neverStop() bool { return false }

func newOrchestrator(t *testing.T, config *types.Config, st store.Store) *MultiPageOrchestrator {
	return NewMultiPageOrchestrator(config, testLogger(), newTestAdapter(t, config), st)
}

func startRun(t *testing.T, st store.Store, desc string) uuid.UUID {
	id, err := st.CreateRun(context.Background(), desc)
	require.NoError(t, err)
	return id
}

func TestNormalizePageRange(t *testing.T) {
	tests := []struct {
		name      string
		start     int
		end       *int
		wantStart int
		wantEnd   *int
		desc      string
	}{
		{"explicit range", 2, intPtr(5), 2, intPtr(5), "pages 2-5"},
		{"start below one", 0, intPtr(3), 1, intPtr(3), "pages 1-3"},
		{"end before start", 7, intPtr(3), 7, intPtr(7), "pages 7-7"},
		{"range capped at fifty pages", 10, intPtr(200), 10, intPtr(59), "pages 10-59"},
		{"auto mode", 4, nil, 4, nil, "from page 4"},
		{"auto mode negative start", -2, nil, 1, nil, "from page 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NormalizePageRange(tt.start, tt.end)
			assert.Equal(t, tt.wantStart, r.Start)
			assert.Equal(t, tt.wantEnd, r.End)
			assert.Equal(t, tt.end == nil, r.Auto())
			assert.Equal(t, tt.desc, r.Description())
		})
	}
}

func TestPageRange_Last(t *testing.T) {
	assert.Equal(t, 54, NormalizePageRange(5, nil).Last(50))
	assert.Equal(t, 8, NormalizePageRange(5, intPtr(8)).Last(50))
	assert.Equal(t, 5, NormalizePageRange(5, nil).Last(0))
}

func TestPageURL(t *testing.T) {
	assert.Equal(t,
		"https://japantransit.ru/auctions/?sortstat=AUCTION_DATE+asc&page=7",
		PageURL(types.DefaultConfig().ListingURLTemplate, 7))
}

func TestPageDelay(t *testing.T) {
	config := types.DefaultConfig()
	o := &MultiPageOrchestrator{config: config}

	o.jitter = func() float64 { return 0.5 }
	assert.Equal(t, 3*time.Second, o.PageDelay())

	o.jitter = func() float64 { return 0.999999 }
	assert.InDelta(t, float64(5*time.Second), float64(o.PageDelay()), float64(time.Millisecond))

	o.jitter = func() float64 { return 0 }
	assert.Equal(t, 1*time.Second, o.PageDelay())

	config.MinPageDelay = 2 * time.Second
	assert.Equal(t, 2*time.Second, o.PageDelay())
}

func TestMultiPage_StopsAfterConsecutiveEmptyPages(t *testing.T) {
	html := fixture(t)
	srv := newListingServer(t, map[int]string{3: html, 4: html, 8: html})
	config := testConfig(t, srv.URL)
	st := store.NewMemoryStore()
	o := newOrchestrator(t, config, st)

	pages := NormalizePageRange(3, nil)
	id := startRun(t, st, pages.Description())
	sum, err := o.Run(context.Background(), id, pages, neverStop)

	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5, 6, 7}, srv.Requested())
	assert.Equal(t, types.RunCompleted, sum.Status)
	assert.Equal(t, 7, sum.LastPage)
	assert.Equal(t, 5, sum.PagesFetched)
	assert.Equal(t, 2, sum.PagesSucceeded)

	run, err := st.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, 1, run.CarsParsed)
	assert.Equal(t, 2, run.ImagesParsed)
	assert.NotNil(t, run.FinishedAt)
}

func TestMultiPage_EmptyStreakResetsOnListings(t *testing.T) {
	html := fixture(t)
	srv := newListingServer(t, map[int]string{1: html, 4: html})
	config := testConfig(t, srv.URL)
	config.MaxPages = 10
	st := store.NewMemoryStore()
	o := newOrchestrator(t, config, st)

	pages := NormalizePageRange(1, nil)
	_, err := o.Run(context.Background(), startRun(t, st, pages.Description()), pages, neverStop)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, srv.Requested())
}

func TestMultiPage_AutoModeHonorsMaxPages(t *testing.T) {
	html := fixture(t)
	srv := newListingServer(t, map[int]string{1: html, 2: html, 3: html, 4: html})
	config := testConfig(t, srv.URL)
	config.MaxPages = 2
	st := store.NewMemoryStore()
	o := newOrchestrator(t, config, st)

	pages := NormalizePageRange(1, nil)
	sum, err := o.Run(context.Background(), startRun(t, st, pages.Description()), pages, neverStop)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, srv.Requested())
	assert.Equal(t, types.RunCompleted, sum.Status)
}

func TestMultiPage_ExplicitRangeVisitsEveryPage(t *testing.T) {
	srv := newListingServer(t, nil)
	config := testConfig(t, srv.URL)
	st := store.NewMemoryStore()
	o := newOrchestrator(t, config, st)

	var delays []time.Duration
	o.sleep = func(d time.Duration) { delays = append(delays, d) }
	config.PageDelay = 3 * time.Second
	config.PageDelayJitter = 2 * time.Second
	config.MinPageDelay = time.Second

	pages := NormalizePageRange(2, intPtr(6))
	sum, err := o.Run(context.Background(), startRun(t, st, pages.Description()), pages, neverStop)

	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 5, 6}, srv.Requested())
	assert.Equal(t, types.RunCompleted, sum.Status)
	assert.Equal(t, "pages 2-6", sum.Description)

	require.Len(t, delays, 4, "no delay after the final page")
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestMultiPage_FailedFetchCountsAsEmpty(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	config := testConfig(t, srv.URL)
	st := store.NewMemoryStore()
	o := newOrchestrator(t, config, st)

	pages := NormalizePageRange(1, nil)
	sum, err := o.Run(context.Background(), startRun(t, st, pages.Description()), pages, neverStop)

	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, types.RunCompleted, sum.Status)
	assert.Zero(t, sum.PagesFetched)
}

func TestMultiPage_StopIsObservedBetweenPages(t *testing.T) {
	html := fixture(t)
	srv := newListingServer(t, map[int]string{1: html, 2: html, 3: html, 4: html})
	config := testConfig(t, srv.URL)
	st := store.NewMemoryStore()
	o := newOrchestrator(t, config, st)

	stop := func() bool { return len(srv.Requested()) >= 2 }
	pages := NormalizePageRange(1, intPtr(4))
	id := startRun(t, st, pages.Description())
	sum, err := o.Run(context.Background(), id, pages, stop)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, srv.Requested())
	assert.Equal(t, types.RunStopped, sum.Status)

	run, err := st.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.RunStopped, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "stopped by user", *run.ErrorMessage)
	assert.Equal(t, 1, run.CarsParsed)
}

func TestMultiPage_StoreFailureEndsRunInError(t *testing.T) {
	srv := newListingServer(t, map[int]string{1: fixture(t)})
	config := testConfig(t, srv.URL)
	st := failingStore{store.NewMemoryStore()}
	o := newOrchestrator(t, config, st)

	pages := NormalizePageRange(1, intPtr(3))
	id := startRun(t, st, pages.Description())
	sum, err := o.Run(context.Background(), id, pages, neverStop)

	var failure *RunFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, id, failure.RunID)
	assert.True(t, errors.Is(err, errStore))
	assert.Equal(t, types.RunError, sum.Status)
	assert.Equal(t, []int{1}, srv.Requested())

	run, err := st.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.RunError, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, errStore.Error())
}

func TestMultiPage_RejectedRecordStaysOnItsPage(t *testing.T) {
	html := fixture(t)
	srv := newListingServer(t, map[int]string{
		1: html,
		2: strings.ReplaceAll(html, "123456", "777777"),
		3: strings.ReplaceAll(html, "123456", "999999"),
	})
	config := testConfig(t, srv.URL)
	st := rejectingStore{MemoryStore: store.NewMemoryStore(), lot: "123456"}
	o := newOrchestrator(t, config, st)

	pages := NormalizePageRange(1, intPtr(3))
	id := startRun(t, st, pages.Description())
	sum, err := o.Run(context.Background(), id, pages, neverStop)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, srv.Requested())
	assert.Equal(t, types.RunCompleted, sum.Status)
	assert.Equal(t, 2, sum.Cars)
	assert.Equal(t, 4, sum.Images)
	assert.Equal(t, 4, sum.Skipped)

	run, err := st.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Nil(t, run.ErrorMessage)
}

func TestMultiPage_CancelledContextEndsRunInError(t *testing.T) {
	srv := newListingServer(t, nil)
	config := testConfig(t, srv.URL)
	st := store.NewMemoryStore()
	o := newOrchestrator(t, config, st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pages := NormalizePageRange(1, intPtr(2))
	id := startRun(t, st, pages.Description())
	_, err := o.Run(ctx, id, pages, neverStop)

	assert.True(t, errors.Is(err, context.Canceled))
	run, err := st.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.RunError, run.Status)
	assert.Empty(t, srv.Requested())
}

func TestMultiPage_ProgressIsVisibleWhileRunning(t *testing.T) {
	html := fixture(t)
	srv := newListingServer(t, map[int]string{1: html, 2: html})
	config := testConfig(t, srv.URL)
	st := store.NewMemoryStore()
	o := newOrchestrator(t, config, st)

	pages := NormalizePageRange(1, intPtr(2))
	id := startRun(t, st, pages.Description())

	var seen []int
	o.sleep = func(time.Duration) {
		run, err := st.GetRun(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, types.RunRunning, run.Status)
		seen = append(seen, run.CarsParsed)
	}
	config.MinPageDelay = time.Millisecond

	_, err := o.Run(context.Background(), id, pages, neverStop)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, seen)
}
