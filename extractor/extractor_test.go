package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"auction-parser/adapters"
	"auction-parser/internal/types"
	"auction-parser/store"
)

const emptyPage = `<html><body><div class="table w-full"></div></body></html>`

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fixture(t *testing.T) string {
	t.Helper()
	html, err := os.ReadFile("testdata/listing_page.html")
	require.NoError(t, err)
	return string(html)
}

// listingServer serves /auctions/?page=N from pages and records every page
// requested. Pages missing from the map get an empty listing.
type listingServer struct {
	*httptest.Server

	mu        sync.Mutex
	requested []int
}

func newListingServer(t *testing.T, pages map[int]string) *listingServer {
	t.Helper()
	ls := &listingServer{}
	ls.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		ls.mu.Lock()
		ls.requested = append(ls.requested, page)
		ls.mu.Unlock()

		body, ok := pages[page]
		if !ok {
			body = emptyPage
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ls.Close)
	return ls
}

func (ls *listingServer) Requested() []int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([]int(nil), ls.requested...)
}

// testConfig returns a config pointed at serverURL with no pacing.
func testConfig(t *testing.T, serverURL string) *types.Config {
	config := types.DefaultConfig()
	config.RequestsPerSecond = 0
	config.PageDelay = 0
	config.PageDelayJitter = 0
	config.MinPageDelay = 0
	config.SiteOrigin = "https://japantransit.ru"
	config.ListingURLTemplate = serverURL + "/auctions/?page={page}"
	config.ResultsDir = t.TempDir()
	return config
}

func newTestAdapter(t *testing.T, config *types.Config) *adapters.JapanTransitAdapter {
	a := adapters.NewJapanTransitAdapter(config, testLogger())
	t.Cleanup(a.Close)
	return a
}

// failingStore fails every car write with errStore.
type failingStore struct {
	*store.MemoryStore
}

var errStore = errors.New("database is unreachable")

func (f failingStore) GetOrCreateCar(ctx context.Context, lot string, defaults types.Car) (*types.Car, bool, error) {
	return nil, false, errStore
}

func (f failingStore) CreateCar(ctx context.Context, car types.Car) (*types.Car, error) {
	return nil, errStore
}

// conflictStore loses every lot-number insert race.
type conflictStore struct {
	*store.MemoryStore
}

func (c conflictStore) GetOrCreateCar(ctx context.Context, lot string, defaults types.Car) (*types.Car, bool, error) {
	return nil, false, store.ErrPersistenceConflict
}

// rejectingStore refuses the car with one lot number the way Postgres
// refuses a row with invalid text.
type rejectingStore struct {
	*store.MemoryStore
	lot string
}

func (r rejectingStore) GetOrCreateCar(ctx context.Context, lot string, defaults types.Car) (*types.Car, bool, error) {
	if lot == r.lot {
		return nil, false, fmt.Errorf("insert car %s: %w: invalid byte sequence for encoding \"UTF8\"", lot, store.ErrRecordRejected)
	}
	return r.MemoryStore.GetOrCreateCar(ctx, lot, defaults)
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }
