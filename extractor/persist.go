package extractor

import (
	"context"
	"errors"
	"fmt"

	"auction-parser/internal/types"
	"auction-parser/store"
)

// SaveResult counts what one Save call changed in the store.
type SaveResult struct {
	Cars    int `json:"cars_created"`
	Images  int `json:"images_created"`
	Skipped int `json:"skipped"`
}

// Persister writes candidate records to a CarStore. Records with a lot
// number are deduplicated by it and an existing car is left untouched;
// records without one always create a new car.
type Persister struct {
	store  store.CarStore
	logger types.Logger
}

// NewPersister creates a persister over s.
func NewPersister(s store.CarStore, logger types.Logger) *Persister {
	return &Persister{store: s, logger: logger}
}

// Save persists every persistable record and its images. Records missing a
// brand or year are skipped, as are records whose insert lost a duplicate-key
// race or that the store rejected for their content. Any other store error
// aborts the batch.
func (p *Persister) Save(ctx context.Context, records []types.CandidateRecord) (SaveResult, error) {
	var res SaveResult
	for i, rec := range records {
		if !rec.Persistable() {
			p.logger.Warnf("Skipping record %d: brand and year are required (brand=%q, year set=%t)", i+1, rec.Brand, rec.Year != nil)
			res.Skipped++
			continue
		}

		car, created, err := p.upsertCar(ctx, rec)
		if skippable(err) {
			p.logger.Warnf("Skipping record %d: %v", i+1, err)
			res.Skipped++
			continue
		}
		if err != nil {
			return res, err
		}
		if created {
			res.Cars++
			p.logger.Debugf("Created car %d: %s %s", car.ID, car.Brand, car.Model)
		}

		images, err := p.saveImages(ctx, car.ID, rec.Images)
		res.Images += images
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (p *Persister) upsertCar(ctx context.Context, rec types.CandidateRecord) (*types.Car, bool, error) {
	defaults := types.CarFromRecord(rec)
	if rec.LotNumber == nil {
		car, err := p.store.CreateCar(ctx, defaults)
		if err != nil {
			return nil, false, fmt.Errorf("create car: %w", err)
		}
		return car, true, nil
	}

	car, created, err := p.store.GetOrCreateCar(ctx, *rec.LotNumber, defaults)
	if err != nil {
		return nil, false, fmt.Errorf("get or create car %s: %w", *rec.LotNumber, err)
	}
	return car, created, nil
}

func (p *Persister) saveImages(ctx context.Context, carID int64, urls []string) (int, error) {
	created := 0
	for _, url := range urls {
		_, ok, err := p.store.GetOrCreateImage(ctx, carID, url)
		if skippable(err) {
			p.logger.Warnf("Skipping image %s: %v", url, err)
			continue
		}
		if err != nil {
			return created, fmt.Errorf("save image for car %d: %w", carID, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// skippable reports whether err concerns only the record being written.
func skippable(err error) bool {
	return errors.Is(err, store.ErrPersistenceConflict) || errors.Is(err, store.ErrRecordRejected)
}
