package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"auction-parser/internal/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const carColumns = `id, brand, model, year, price, mileage, lot_number, lot_url, engine_volume, auction_date, created_at`

const runColumns = `id, url, status, cars_parsed, images_parsed, error_message, created_at, finished_at`

// PostgresStore is a Store backed by a pgx connection pool. Lot numbers and
// (car, url) pairs are unique in the schema, so concurrent writers resolve
// duplicate inserts through ON CONFLICT instead of application locks.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger types.Logger
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string, maxConns int, logger types.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Debug("Database schema is up to date")
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func scanCar(row pgx.Row) (*types.Car, error) {
	var c types.Car
	err := row.Scan(&c.ID, &c.Brand, &c.Model, &c.Year, &c.Price, &c.Mileage,
		&c.LotNumber, &c.LotURL, &c.EngineVolume, &c.AuctionDate, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// rowError wraps server errors of SQLSTATE class 22 (data exception) and 23
// (integrity constraint violation) with ErrRecordRejected. Connection and
// other failures are returned unchanged.
func rowError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")) {
		return fmt.Errorf("%w: %w", ErrRecordRejected, err)
	}
	return err
}

func scanRun(row pgx.Row) (*types.RunStatus, error) {
	var r types.RunStatus
	err := row.Scan(&r.ID, &r.URL, &r.Status, &r.CarsParsed, &r.ImagesParsed,
		&r.ErrorMessage, &r.CreatedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetOrCreateCar(ctx context.Context, lotNumber string, defaults types.Car) (*types.Car, bool, error) {
	car, err := scanCar(s.pool.QueryRow(ctx, `
		INSERT INTO cars (brand, model, year, price, mileage, lot_number, lot_url, engine_volume, auction_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (lot_number) DO NOTHING
		RETURNING `+carColumns,
		defaults.Brand, defaults.Model, defaults.Year, defaults.Price, defaults.Mileage,
		lotNumber, defaults.LotURL, defaults.EngineVolume, defaults.AuctionDate,
	))
	if err == nil {
		return car, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert car %s: %w", lotNumber, rowError(err))
	}

	// Lost the insert to an existing row; read it back.
	car, err = scanCar(s.pool.QueryRow(ctx, `SELECT `+carColumns+` FROM cars WHERE lot_number = $1`, lotNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("car %s: %w", lotNumber, ErrPersistenceConflict)
	}
	if err != nil {
		return nil, false, fmt.Errorf("select car %s: %w", lotNumber, err)
	}
	return car, false, nil
}

func (s *PostgresStore) CreateCar(ctx context.Context, c types.Car) (*types.Car, error) {
	car, err := scanCar(s.pool.QueryRow(ctx, `
		INSERT INTO cars (brand, model, year, price, mileage, lot_number, lot_url, engine_volume, auction_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (lot_number) DO NOTHING
		RETURNING `+carColumns,
		c.Brand, c.Model, c.Year, c.Price, c.Mileage,
		c.LotNumber, c.LotURL, c.EngineVolume, c.AuctionDate,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPersistenceConflict
	}
	if err != nil {
		return nil, fmt.Errorf("insert car: %w", rowError(err))
	}
	return car, nil
}

func (s *PostgresStore) GetOrCreateImage(ctx context.Context, carID int64, url string) (*types.Image, bool, error) {
	img := types.Image{CarID: carID, URL: url}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO images (car_id, url) VALUES ($1, $2)
		ON CONFLICT (car_id, url) DO NOTHING
		RETURNING id`, carID, url).Scan(&img.ID)
	if err == nil {
		return &img, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert image for car %d: %w", carID, rowError(err))
	}

	err = s.pool.QueryRow(ctx, `SELECT id FROM images WHERE car_id = $1 AND url = $2`, carID, url).Scan(&img.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("image for car %d: %w", carID, ErrPersistenceConflict)
	}
	if err != nil {
		return nil, false, fmt.Errorf("select image for car %d: %w", carID, err)
	}
	return &img, false, nil
}

func (s *PostgresStore) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *PostgresStore) deleteAll(ctx context.Context, table string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+table)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountCars(ctx context.Context) (int, error) {
	return s.count(ctx, "cars")
}

func (s *PostgresStore) CountImages(ctx context.Context) (int, error) {
	return s.count(ctx, "images")
}

// DeleteAllCars relies on ON DELETE CASCADE to remove the images.
func (s *PostgresStore) DeleteAllCars(ctx context.Context) (int, error) {
	return s.deleteAll(ctx, "cars")
}

func (s *PostgresStore) DeleteAllImages(ctx context.Context) (int, error) {
	return s.deleteAll(ctx, "images")
}

var sortColumns = map[string]string{
	"created_at": "created_at",
	"year":       "year",
	"price":      "price",
	"mileage":    "mileage",
	"brand":      "brand",
}

// carQuery builds the WHERE clause and its arguments for a filter.
func carQuery(f CarFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Search != "" {
		p := arg("%" + escapeLike(f.Search) + "%")
		conds = append(conds, fmt.Sprintf("(brand ILIKE %[1]s OR model ILIKE %[1]s OR lot_number ILIKE %[1]s)", p))
	}
	if f.Brand != "" {
		conds = append(conds, "lower(brand) = lower("+arg(f.Brand)+")")
	}
	bound := func(column string, from, to *int) {
		if from != nil {
			conds = append(conds, column+" >= "+arg(*from))
		}
		if to != nil {
			conds = append(conds, column+" <= "+arg(*to))
		}
	}
	bound("year", f.YearFrom, f.YearTo)
	bound("price", f.PriceFrom, f.PriceTo)
	bound("mileage", f.MileageFrom, f.MileageTo)

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *PostgresStore) ListCars(ctx context.Context, filter CarFilter) (*CarPage, error) {
	f := filter.Normalize()
	where, args := carQuery(f)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM cars`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count cars: %w", err)
	}

	key, desc, _ := ParseSort(f.Sort)
	order := sortColumns[key]
	if desc {
		order += " DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM cars%s ORDER BY %s, id LIMIT %d OFFSET %d`,
		carColumns, where, order, f.PerPage, f.Offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cars: %w", err)
	}
	var cars []types.Car
	for rows.Next() {
		car, err := scanCar(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan car: %w", err)
		}
		cars = append(cars, *car)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cars: %w", err)
	}

	if err := s.attachImages(ctx, cars); err != nil {
		return nil, err
	}
	return newCarPage(cars, total, f), nil
}

// attachImages loads up to ImagesPerCar images for each car in one query.
func (s *PostgresStore) attachImages(ctx context.Context, cars []types.Car) error {
	if len(cars) == 0 {
		return nil
	}
	ids := make([]int64, len(cars))
	index := make(map[int64]int, len(cars))
	for i, c := range cars {
		ids[i] = c.ID
		index[c.ID] = i
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, car_id, url FROM (
			SELECT id, car_id, url, row_number() OVER (PARTITION BY car_id ORDER BY id) AS n
			FROM images WHERE car_id = ANY($1)
		) ranked
		WHERE n <= $2
		ORDER BY car_id, id`, ids, ImagesPerCar)
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var img types.Image
		if err := rows.Scan(&img.ID, &img.CarID, &img.URL); err != nil {
			return fmt.Errorf("scan image: %w", err)
		}
		i := index[img.CarID]
		cars[i].Images = append(cars[i].Images, img)
	}
	return rows.Err()
}

func (s *PostgresStore) ListBrands(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT brand FROM cars WHERE brand <> '' ORDER BY brand`)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	brands, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	if brands == nil {
		brands = []string{}
	}
	return brands, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, url string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO parser_runs (id, url, status) VALUES ($1, $2, $3)`,
		id, url, string(types.RunRunning))
	if err != nil {
		return uuid.Nil, fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

// transition applies an update that is only valid while the run is running
// and maps a no-op update to ErrNotFound or ErrRunFinished.
func (s *PostgresStore) transition(ctx context.Context, id uuid.UUID, set string, args ...any) error {
	args = append([]any{id, string(types.RunRunning)}, args...)
	tag, err := s.pool.Exec(ctx,
		`UPDATE parser_runs SET `+set+` WHERE id = $1 AND status = $2`, args...)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("run %s: %w", id, ErrRunFinished)
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id uuid.UUID, cars, images int) error {
	return s.transition(ctx, id, `cars_parsed = $3, images_parsed = $4`, cars, images)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id uuid.UUID, cars, images int) error {
	return s.transition(ctx, id,
		`status = $3, cars_parsed = $4, images_parsed = $5, finished_at = clock_timestamp()`,
		string(types.RunCompleted), cars, images)
}

func (s *PostgresStore) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	return s.transition(ctx, id,
		`status = $3, error_message = $4, finished_at = clock_timestamp()`,
		string(types.RunError), message)
}

func (s *PostgresStore) MarkStopped(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id,
		`status = $3, error_message = $4, finished_at = clock_timestamp()`,
		string(types.RunStopped), StoppedMessage)
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*types.RunStatus, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM parser_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func (s *PostgresStore) listRuns(ctx context.Context, query string, args ...any) ([]types.RunStatus, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []types.RunStatus{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) ListRecentRuns(ctx context.Context, limit int) ([]types.RunStatus, error) {
	return s.listRuns(ctx,
		`SELECT `+runColumns+` FROM parser_runs ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *PostgresStore) ListRunningRuns(ctx context.Context) ([]types.RunStatus, error) {
	return s.listRuns(ctx,
		`SELECT `+runColumns+` FROM parser_runs WHERE status = $1 ORDER BY created_at`,
		string(types.RunRunning))
}

func (s *PostgresStore) DeleteAllRuns(ctx context.Context) (int, error) {
	return s.deleteAll(ctx, "parser_runs")
}

var _ Store = (*PostgresStore)(nil)
