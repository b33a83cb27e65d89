// Package store holds the persistence boundary of the parser: cars with their
// images, and the status records of parsing runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"auction-parser/internal/types"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a car or run does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRunFinished is returned when a transition is attempted on a run that
	// already reached a terminal state.
	ErrRunFinished = errors.New("run already finished")
	// ErrPersistenceConflict is returned when a get-or-create lost a
	// duplicate-key race and the winning row could not be read back.
	ErrPersistenceConflict = errors.New("persistence conflict")
	// ErrRecordRejected is returned when the store refuses a row because of
	// its content (invalid text, constraint violation). The store itself is
	// still usable.
	ErrRecordRejected = errors.New("record rejected")
)

// StoppedMessage is recorded as the error message of a run stopped on request.
const StoppedMessage = "stopped by user"

// CarStore is the write and query path for cars and their images.
type CarStore interface {
	// GetOrCreateCar returns the car with the given lot number, creating it
	// from defaults when absent. An existing car is never modified.
	GetOrCreateCar(ctx context.Context, lotNumber string, defaults types.Car) (*types.Car, bool, error)
	CreateCar(ctx context.Context, car types.Car) (*types.Car, error)
	GetOrCreateImage(ctx context.Context, carID int64, url string) (*types.Image, bool, error)
	CountCars(ctx context.Context) (int, error)
	CountImages(ctx context.Context) (int, error)
	// DeleteAllCars removes every car together with its images.
	DeleteAllCars(ctx context.Context) (int, error)
	DeleteAllImages(ctx context.Context) (int, error)
	ListCars(ctx context.Context, filter CarFilter) (*CarPage, error)
	ListBrands(ctx context.Context) ([]string, error)
}

// RunStore is the status sink for parsing runs. Only the running state
// accepts updates; terminal transitions set FinishedAt.
type RunStore interface {
	CreateRun(ctx context.Context, url string) (uuid.UUID, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, cars, images int) error
	MarkCompleted(ctx context.Context, id uuid.UUID, cars, images int) error
	MarkError(ctx context.Context, id uuid.UUID, message string) error
	MarkStopped(ctx context.Context, id uuid.UUID) error
	GetRun(ctx context.Context, id uuid.UUID) (*types.RunStatus, error)
	// ListRecentRuns returns up to limit runs, newest first.
	ListRecentRuns(ctx context.Context, limit int) ([]types.RunStatus, error)
	// ListRunningRuns returns every non-terminal run, oldest first.
	ListRunningRuns(ctx context.Context) ([]types.RunStatus, error)
	DeleteAllRuns(ctx context.Context) (int, error)
}

// Store combines both boundaries.
type Store interface {
	CarStore
	RunStore
	Close()
}

// Sort keys accepted by CarFilter.Sort, optionally prefixed with "-" for
// descending order.
var SortKeys = []string{"created_at", "year", "price", "mileage", "brand"}

const (
	DefaultSort    = "-created_at"
	DefaultPerPage = 50
	MaxPerPage     = 200
	// ImagesPerCar is how many images ListCars attaches to each car.
	ImagesPerCar = 3
)

// CarFilter narrows and orders a ListCars query. Nil bounds are open.
type CarFilter struct {
	Search      string
	Brand       string
	YearFrom    *int
	YearTo      *int
	PriceFrom   *int
	PriceTo     *int
	MileageFrom *int
	MileageTo   *int
	Sort        string
	Page        int
	PerPage     int
}

// Normalize fills defaults and replaces invalid paging and sort values.
func (f CarFilter) Normalize() CarFilter {
	f.Search = strings.TrimSpace(f.Search)
	f.Brand = strings.TrimSpace(f.Brand)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	if _, _, ok := ParseSort(f.Sort); !ok {
		f.Sort = DefaultSort
	}
	return f
}

// Offset is the number of rows skipped before the requested page.
func (f CarFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

// ParseSort splits a sort expression into its key and direction.
func ParseSort(sort string) (key string, desc bool, ok bool) {
	key = strings.TrimSpace(sort)
	if strings.HasPrefix(key, "-") {
		desc = true
		key = key[1:]
	}
	for _, k := range SortKeys {
		if k == key {
			return key, desc, true
		}
	}
	return "", false, false
}

// CarPage is one page of a ListCars result.
type CarPage struct {
	Cars       []types.Car `json:"cars"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	PerPage    int         `json:"per_page"`
	TotalPages int         `json:"total_pages"`
}

func newCarPage(cars []types.Car, total int, f CarFilter) *CarPage {
	if cars == nil {
		cars = []types.Car{}
	}
	return &CarPage{
		Cars:       cars,
		Total:      total,
		Page:       f.Page,
		PerPage:    f.PerPage,
		TotalPages: (total + f.PerPage - 1) / f.PerPage,
	}
}

// ClearResult reports how many rows Clear removed.
type ClearResult struct {
	Images int `json:"images_deleted"`
	Cars   int `json:"cars_deleted"`
	Runs   int `json:"runs_deleted"`
}

// Clear deletes every image, car and run.
func Clear(ctx context.Context, s Store) (ClearResult, error) {
	var (
		res ClearResult
		err error
	)
	if res.Images, err = s.DeleteAllImages(ctx); err != nil {
		return res, fmt.Errorf("delete images: %w", err)
	}
	if res.Cars, err = s.DeleteAllCars(ctx); err != nil {
		return res, fmt.Errorf("delete cars: %w", err)
	}
	if res.Runs, err = s.DeleteAllRuns(ctx); err != nil {
		return res, fmt.Errorf("delete runs: %w", err)
	}
	return res, nil
}

// Open returns a PostgresStore when config names a database and a
// MemoryStore otherwise.
func Open(ctx context.Context, config *types.Config, logger types.Logger) (Store, error) {
	if config.DatabaseURL == "" {
		logger.Warn("No database configured, parsed data is kept in memory only")
		return NewMemoryStore(), nil
	}
	return OpenPostgres(ctx, config.DatabaseURL, config.MaxDBConns, logger)
}
