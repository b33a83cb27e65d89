package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"auction-parser/internal/types"

	"github.com/google/uuid"
)

type imageKey struct {
	carID int64
	url   string
}

// MemoryStore is a Store kept in process memory. It is used when no database
// is configured and in tests.
type MemoryStore struct {
	mu sync.Mutex

	cars      map[int64]*types.Car
	carsByLot map[string]int64
	images    map[int64][]types.Image
	imageKeys map[imageKey]int64
	nextCarID int64
	nextImgID int64

	runs     map[uuid.UUID]*types.RunStatus
	runOrder []uuid.UUID

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cars:      make(map[int64]*types.Car),
		carsByLot: make(map[string]int64),
		images:    make(map[int64][]types.Image),
		imageKeys: make(map[imageKey]int64),
		runs:      make(map[uuid.UUID]*types.RunStatus),
		now:       time.Now,
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() {}

func (m *MemoryStore) GetOrCreateCar(ctx context.Context, lotNumber string, defaults types.Car) (*types.Car, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !utf8.ValidString(lotNumber) {
		return nil, false, ErrRecordRejected
	}
	if id, ok := m.carsByLot[lotNumber]; ok {
		car := *m.cars[id]
		return &car, false, nil
	}
	lot := lotNumber
	defaults.LotNumber = &lot
	if err := checkCarText(defaults); err != nil {
		return nil, false, err
	}
	car := m.insertCar(defaults)
	return &car, true, nil
}

func (m *MemoryStore) CreateCar(ctx context.Context, car types.Car) (*types.Car, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if car.LotNumber != nil {
		if _, ok := m.carsByLot[*car.LotNumber]; ok {
			return nil, ErrPersistenceConflict
		}
	}
	if err := checkCarText(car); err != nil {
		return nil, err
	}
	created := m.insertCar(car)
	return &created, nil
}

// checkCarText rejects text columns that are not valid UTF-8, as a
// Postgres TEXT column would.
func checkCarText(car types.Car) error {
	fields := []string{car.Brand, car.Model}
	for _, p := range []*string{car.LotNumber, car.LotURL, car.EngineVolume, car.AuctionDate} {
		if p != nil {
			fields = append(fields, *p)
		}
	}
	for _, f := range fields {
		if !utf8.ValidString(f) {
			return ErrRecordRejected
		}
	}
	return nil
}

func (m *MemoryStore) insertCar(car types.Car) types.Car {
	m.nextCarID++
	car.ID = m.nextCarID
	car.CreatedAt = m.now()
	car.Images = nil
	stored := car
	m.cars[car.ID] = &stored
	if car.LotNumber != nil {
		m.carsByLot[*car.LotNumber] = car.ID
	}
	return car
}

func (m *MemoryStore) GetOrCreateImage(ctx context.Context, carID int64, url string) (*types.Image, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cars[carID]; !ok {
		return nil, false, ErrNotFound
	}
	if !utf8.ValidString(url) {
		return nil, false, ErrRecordRejected
	}
	key := imageKey{carID: carID, url: url}
	if id, ok := m.imageKeys[key]; ok {
		return &types.Image{ID: id, CarID: carID, URL: url}, false, nil
	}
	m.nextImgID++
	img := types.Image{ID: m.nextImgID, CarID: carID, URL: url}
	m.imageKeys[key] = img.ID
	m.images[carID] = append(m.images[carID], img)
	return &img, true, nil
}

func (m *MemoryStore) CountCars(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cars), nil
}

func (m *MemoryStore) CountImages(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.imageKeys), nil
}

func (m *MemoryStore) DeleteAllCars(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.cars)
	m.cars = make(map[int64]*types.Car)
	m.carsByLot = make(map[string]int64)
	m.images = make(map[int64][]types.Image)
	m.imageKeys = make(map[imageKey]int64)
	return n, nil
}

func (m *MemoryStore) DeleteAllImages(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.imageKeys)
	m.images = make(map[int64][]types.Image)
	m.imageKeys = make(map[imageKey]int64)
	return n, nil
}

func (m *MemoryStore) ListCars(ctx context.Context, filter CarFilter) (*CarPage, error) {
	f := filter.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []types.Car
	for _, car := range m.cars {
		if matchesFilter(car, f) {
			matched = append(matched, *car)
		}
	}

	key, desc, _ := ParseSort(f.Sort)
	sort.SliceStable(matched, func(i, j int) bool {
		c := compareCars(&matched[i], &matched[j], key)
		if desc {
			c = -c
		}
		if c == 0 {
			return matched[i].ID < matched[j].ID
		}
		return c < 0
	})

	total := len(matched)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	page := matched[start:end]
	for i := range page {
		imgs := m.images[page[i].ID]
		if len(imgs) > ImagesPerCar {
			imgs = imgs[:ImagesPerCar]
		}
		page[i].Images = append([]types.Image(nil), imgs...)
	}
	return newCarPage(page, total, f), nil
}

func matchesFilter(car *types.Car, f CarFilter) bool {
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		hit := strings.Contains(strings.ToLower(car.Brand), needle) ||
			strings.Contains(strings.ToLower(car.Model), needle) ||
			(car.LotNumber != nil && strings.Contains(strings.ToLower(*car.LotNumber), needle))
		if !hit {
			return false
		}
	}
	if f.Brand != "" && !strings.EqualFold(car.Brand, f.Brand) {
		return false
	}
	year := car.Year
	if !inRange(&year, f.YearFrom, f.YearTo) {
		return false
	}
	if !inRange(car.Price, f.PriceFrom, f.PriceTo) {
		return false
	}
	return inRange(car.Mileage, f.MileageFrom, f.MileageTo)
}

// inRange reports whether v lies within the optional bounds. A nil value only
// passes when both bounds are open.
func inRange(v, from, to *int) bool {
	if from == nil && to == nil {
		return true
	}
	if v == nil {
		return false
	}
	if from != nil && *v < *from {
		return false
	}
	return to == nil || *v <= *to
}

func compareCars(a, b *types.Car, key string) int {
	switch key {
	case "year":
		return compareInt64(int64(a.Year), int64(b.Year))
	case "price":
		return compareOptional(a.Price, b.Price)
	case "mileage":
		return compareOptional(a.Mileage, b.Mileage)
	case "brand":
		return strings.Compare(a.Brand, b.Brand)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// compareOptional orders nil after every value, like NULLS LAST ascending.
func compareOptional(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return compareInt64(int64(*a), int64(*b))
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (m *MemoryStore) ListBrands(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	brands := []string{}
	for _, car := range m.cars {
		if car.Brand != "" && !seen[car.Brand] {
			seen[car.Brand] = true
			brands = append(brands, car.Brand)
		}
	}
	sort.Strings(brands)
	return brands, nil
}

func (m *MemoryStore) CreateRun(ctx context.Context, url string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New()
	m.runs[id] = &types.RunStatus{
		ID:        id,
		URL:       url,
		Status:    types.RunRunning,
		CreatedAt: m.now(),
	}
	m.runOrder = append(m.runOrder, id)
	return id, nil
}

// running returns the run if it exists and still accepts updates.
// The caller holds m.mu.
func (m *MemoryStore) running(id uuid.UUID) (*types.RunStatus, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if run.Status.Terminal() {
		return nil, ErrRunFinished
	}
	return run, nil
}

func (m *MemoryStore) finish(run *types.RunStatus, state types.RunState, message *string) {
	now := m.now()
	run.Status = state
	run.ErrorMessage = message
	run.FinishedAt = &now
}

func (m *MemoryStore) UpdateProgress(ctx context.Context, id uuid.UUID, cars, images int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, err := m.running(id)
	if err != nil {
		return err
	}
	run.CarsParsed, run.ImagesParsed = cars, images
	return nil
}

func (m *MemoryStore) MarkCompleted(ctx context.Context, id uuid.UUID, cars, images int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, err := m.running(id)
	if err != nil {
		return err
	}
	run.CarsParsed, run.ImagesParsed = cars, images
	m.finish(run, types.RunCompleted, nil)
	return nil
}

func (m *MemoryStore) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, err := m.running(id)
	if err != nil {
		return err
	}
	m.finish(run, types.RunError, &message)
	return nil
}

func (m *MemoryStore) MarkStopped(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, err := m.running(id)
	if err != nil {
		return err
	}
	msg := StoppedMessage
	m.finish(run, types.RunStopped, &msg)
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, id uuid.UUID) (*types.RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *MemoryStore) ListRecentRuns(ctx context.Context, limit int) ([]types.RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := []types.RunStatus{}
	for i := len(m.runOrder) - 1; i >= 0 && len(runs) < limit; i-- {
		runs = append(runs, *m.runs[m.runOrder[i]])
	}
	return runs, nil
}

func (m *MemoryStore) ListRunningRuns(ctx context.Context) ([]types.RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := []types.RunStatus{}
	for _, id := range m.runOrder {
		if run := m.runs[id]; !run.Status.Terminal() {
			runs = append(runs, *run)
		}
	}
	return runs, nil
}

func (m *MemoryStore) DeleteAllRuns(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.runs)
	m.runs = make(map[uuid.UUID]*types.RunStatus)
	m.runOrder = nil
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
