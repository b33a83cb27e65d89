package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-parser/internal/types"
)

func intPtr(v int) *int { return &v }

func sampleCar(brand, model string, year, price, mileage int) types.Car {
	return types.Car{
		Brand:   brand,
		Model:   model,
		Year:    year,
		Price:   intPtr(price),
		Mileage: intPtr(mileage),
	}
}

// runStoreTests exercises behavior every Store implementation shares.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get or create car keeps first values", func(t *testing.T) {
		s := newStore(t)

		first := sampleCar("Toyota", "Corolla", 2015, 1250000, 85000)
		car, created, err := s.GetOrCreateCar(ctx, "123456", first)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotZero(t, car.ID)
		require.NotNil(t, car.LotNumber)
		assert.Equal(t, "123456", *car.LotNumber)

		later := sampleCar("Toyota", "Corolla", 2015, 990000, 86000)
		again, created, err := s.GetOrCreateCar(ctx, "123456", later)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, car.ID, again.ID)
		assert.Equal(t, 1250000, *again.Price)

		n, err := s.CountCars(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("invalid text is rejected per record", func(t *testing.T) {
		s := newStore(t)

		_, _, err := s.GetOrCreateCar(ctx, "7", sampleCar("Toyota", "COROLLA \xff\xfe", 2015, 1, 1))
		assert.ErrorIs(t, err, ErrRecordRejected)

		car, _, err := s.GetOrCreateCar(ctx, "8", sampleCar("Toyota", "Corolla", 2015, 1, 1))
		require.NoError(t, err)
		_, _, err = s.GetOrCreateImage(ctx, car.ID, "https://img/\xff.jpg")
		assert.ErrorIs(t, err, ErrRecordRejected)

		n, err := s.CountCars(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("create car without lot always inserts", func(t *testing.T) {
		s := newStore(t)

		a, err := s.CreateCar(ctx, sampleCar("Honda", "Fit", 2012, 500000, 100000))
		require.NoError(t, err)
		b, err := s.CreateCar(ctx, sampleCar("Honda", "Fit", 2012, 500000, 100000))
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)

		n, err := s.CountCars(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("images are unique per car and url", func(t *testing.T) {
		s := newStore(t)

		car, _, err := s.GetOrCreateCar(ctx, "1", sampleCar("Mazda", "Demio", 2014, 300000, 70000))
		require.NoError(t, err)
		other, _, err := s.GetOrCreateCar(ctx, "2", sampleCar("Mazda", "Axela", 2016, 600000, 50000))
		require.NoError(t, err)

		img, created, err := s.GetOrCreateImage(ctx, car.ID, "https://img/1.jpg")
		require.NoError(t, err)
		assert.True(t, created)

		dup, created, err := s.GetOrCreateImage(ctx, car.ID, "https://img/1.jpg")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, img.ID, dup.ID)

		_, created, err = s.GetOrCreateImage(ctx, other.ID, "https://img/1.jpg")
		require.NoError(t, err)
		assert.True(t, created)

		n, err := s.CountImages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("deleting cars cascades to images", func(t *testing.T) {
		s := newStore(t)

		car, _, err := s.GetOrCreateCar(ctx, "7", sampleCar("Subaru", "Impreza", 2018, 900000, 30000))
		require.NoError(t, err)
		_, _, err = s.GetOrCreateImage(ctx, car.ID, "https://img/a.jpg")
		require.NoError(t, err)
		_, _, err = s.GetOrCreateImage(ctx, car.ID, "https://img/b.jpg")
		require.NoError(t, err)

		n, err := s.DeleteAllCars(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		images, err := s.CountImages(ctx)
		require.NoError(t, err)
		assert.Zero(t, images)
	})

	t.Run("run lifecycle", func(t *testing.T) {
		s := newStore(t)

		id, err := s.CreateRun(ctx, "pages 1-3")
		require.NoError(t, err)

		run, err := s.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.RunRunning, run.Status)
		assert.Nil(t, run.FinishedAt)

		require.NoError(t, s.UpdateProgress(ctx, id, 2, 5))
		run, err = s.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, run.CarsParsed)
		assert.Equal(t, 5, run.ImagesParsed)

		require.NoError(t, s.MarkCompleted(ctx, id, 3, 7))
		run, err = s.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.RunCompleted, run.Status)
		assert.Equal(t, 3, run.CarsParsed)
		assert.Equal(t, 7, run.ImagesParsed)
		assert.NotNil(t, run.FinishedAt)

		assert.True(t, errors.Is(s.MarkError(ctx, id, "late"), ErrRunFinished))
		assert.True(t, errors.Is(s.MarkStopped(ctx, id), ErrRunFinished))
		assert.True(t, errors.Is(s.UpdateProgress(ctx, id, 9, 9), ErrRunFinished))

		run, err = s.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.RunCompleted, run.Status)
		assert.Nil(t, run.ErrorMessage)
	})

	t.Run("error and stopped runs carry a message", func(t *testing.T) {
		s := newStore(t)

		failed, err := s.CreateRun(ctx, "https://example.com")
		require.NoError(t, err)
		require.NoError(t, s.MarkError(ctx, failed, "could not fetch HTML content"))

		stopped, err := s.CreateRun(ctx, "from page 1")
		require.NoError(t, err)
		require.NoError(t, s.MarkStopped(ctx, stopped))

		run, err := s.GetRun(ctx, failed)
		require.NoError(t, err)
		assert.Equal(t, types.RunError, run.Status)
		require.NotNil(t, run.ErrorMessage)
		assert.Equal(t, "could not fetch HTML content", *run.ErrorMessage)

		run, err = s.GetRun(ctx, stopped)
		require.NoError(t, err)
		assert.Equal(t, types.RunStopped, run.Status)
		require.NotNil(t, run.ErrorMessage)
		assert.Equal(t, StoppedMessage, *run.ErrorMessage)
	})

	t.Run("unknown run", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetRun(ctx, uuid.New())
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(s.MarkCompleted(ctx, uuid.New(), 0, 0), ErrNotFound))
	})

	t.Run("recent and running runs", func(t *testing.T) {
		s := newStore(t)

		var ids []uuid.UUID
		for i := 0; i < 4; i++ {
			id, err := s.CreateRun(ctx, fmt.Sprintf("run %d", i))
			require.NoError(t, err)
			ids = append(ids, id)
			time.Sleep(2 * time.Millisecond)
		}
		require.NoError(t, s.MarkCompleted(ctx, ids[0], 0, 0))

		recent, err := s.ListRecentRuns(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, ids[3], recent[0].ID)
		assert.Equal(t, ids[2], recent[1].ID)

		running, err := s.ListRunningRuns(ctx)
		require.NoError(t, err)
		require.Len(t, running, 3)
		assert.Equal(t, ids[1], running[0].ID)

		n, err := s.DeleteAllRuns(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("list cars filters sorts and pages", func(t *testing.T) {
		s := newStore(t)

		toyota, _, err := s.GetOrCreateCar(ctx, "100", sampleCar("Toyota", "Prius", 2016, 800000, 60000))
		require.NoError(t, err)
		for i := 1; i <= 5; i++ {
			_, _, err = s.GetOrCreateImage(ctx, toyota.ID, fmt.Sprintf("https://img/%d.jpg", i))
			require.NoError(t, err)
		}
		_, _, err = s.GetOrCreateCar(ctx, "200", sampleCar("Nissan", "Leaf", 2019, 1200000, 20000))
		require.NoError(t, err)
		_, _, err = s.GetOrCreateCar(ctx, "300", sampleCar("Toyota", "Aqua", 2013, 400000, 110000))
		require.NoError(t, err)

		page, err := s.ListCars(ctx, CarFilter{Brand: "toyota", Sort: "price"})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
		require.Len(t, page.Cars, 2)
		assert.Equal(t, "Aqua", page.Cars[0].Model)
		assert.Equal(t, "Prius", page.Cars[1].Model)
		assert.Len(t, page.Cars[1].Images, ImagesPerCar)
		assert.Equal(t, DefaultPerPage, page.PerPage)

		page, err = s.ListCars(ctx, CarFilter{Search: "lea"})
		require.NoError(t, err)
		require.Len(t, page.Cars, 1)
		assert.Equal(t, "Nissan", page.Cars[0].Brand)

		page, err = s.ListCars(ctx, CarFilter{Search: "30"})
		require.NoError(t, err)
		require.Len(t, page.Cars, 1)
		assert.Equal(t, "300", *page.Cars[0].LotNumber)

		page, err = s.ListCars(ctx, CarFilter{YearFrom: intPtr(2014), MileageTo: intPtr(70000), Sort: "-year"})
		require.NoError(t, err)
		require.Len(t, page.Cars, 2)
		assert.Equal(t, 2019, page.Cars[0].Year)
		assert.Equal(t, 2016, page.Cars[1].Year)

		page, err = s.ListCars(ctx, CarFilter{Sort: "brand", Page: 2, PerPage: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, 2, page.TotalPages)
		require.Len(t, page.Cars, 1)
		assert.Equal(t, "Toyota", page.Cars[0].Brand)

		page, err = s.ListCars(ctx, CarFilter{Page: 9})
		require.NoError(t, err)
		assert.Empty(t, page.Cars)
		assert.Equal(t, 3, page.Total)

		brands, err := s.ListBrands(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Nissan", "Toyota"}, brands)
	})

	t.Run("clear reports counts", func(t *testing.T) {
		s := newStore(t)

		car, _, err := s.GetOrCreateCar(ctx, "1", sampleCar("Lexus", "RX", 2017, 2500000, 40000))
		require.NoError(t, err)
		_, _, err = s.GetOrCreateImage(ctx, car.ID, "https://img/x.jpg")
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, "pages 1-1")
		require.NoError(t, err)

		res, err := Clear(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, ClearResult{Images: 1, Cars: 1, Runs: 1}, res)

		n, err := s.CountCars(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestCarFilter_Normalize(t *testing.T) {
	f := CarFilter{Page: -3, PerPage: 0, Sort: "color", Search: "  rav4 "}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, DefaultPerPage, f.PerPage)
	assert.Equal(t, DefaultSort, f.Sort)
	assert.Equal(t, "rav4", f.Search)
	assert.Equal(t, 0, f.Offset())

	f = CarFilter{Page: 3, PerPage: 1000, Sort: "-mileage"}.Normalize()
	assert.Equal(t, MaxPerPage, f.PerPage)
	assert.Equal(t, "-mileage", f.Sort)
	assert.Equal(t, 2*MaxPerPage, f.Offset())
}

func TestParseSort(t *testing.T) {
	key, desc, ok := ParseSort("-price")
	assert.True(t, ok)
	assert.True(t, desc)
	assert.Equal(t, "price", key)

	key, desc, ok = ParseSort("year")
	assert.True(t, ok)
	assert.False(t, desc)
	assert.Equal(t, "year", key)

	_, _, ok = ParseSort("-")
	assert.False(t, ok)
}
