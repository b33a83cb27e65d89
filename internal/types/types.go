package types

import (
	"time"

	"github.com/google/uuid"
)

// CandidateRecord is one listing as extracted from a page, before persistence.
// Optional fields are nil when no locator resolved them.
type CandidateRecord struct {
	LotNumber    *string  `json:"lot_number,omitempty"`
	Brand        string   `json:"brand,omitempty"`
	Model        string   `json:"model,omitempty"`
	Year         *int     `json:"year,omitempty"`
	EngineVolume *string  `json:"engine_volume,omitempty"`
	Mileage      *int     `json:"mileage,omitempty"`
	Price        *int     `json:"price"`
	AuctionDate  *string  `json:"auction_date,omitempty"`
	LotURL       *string  `json:"lot_url,omitempty"`
	Images       []string `json:"images,omitempty"`
}

// Persistable reports whether the record carries the minimum a car row needs.
func (r CandidateRecord) Persistable() bool {
	return r.Brand != "" && r.Year != nil
}

// Car is a persisted listing.
type Car struct {
	ID           int64     `json:"id"`
	Brand        string    `json:"brand"`
	Model        string    `json:"model"`
	Year         int       `json:"year"`
	Price        *int      `json:"price"`
	Mileage      *int      `json:"mileage"`
	LotNumber    *string   `json:"lot_number"`
	LotURL       *string   `json:"lot_url"`
	EngineVolume *string   `json:"engine_volume"`
	AuctionDate  *string   `json:"auction_date"`
	CreatedAt    time.Time `json:"created_at"`
	Images       []Image   `json:"images,omitempty"`
}

// CarFromRecord copies the record's fields into a new, unsaved Car.
func CarFromRecord(r CandidateRecord) Car {
	car := Car{
		Brand:        r.Brand,
		Model:        r.Model,
		Price:        r.Price,
		Mileage:      r.Mileage,
		LotNumber:    r.LotNumber,
		LotURL:       r.LotURL,
		EngineVolume: r.EngineVolume,
		AuctionDate:  r.AuctionDate,
	}
	if r.Year != nil {
		car.Year = *r.Year
	}
	return car
}

// Image is a persisted image URL owned by exactly one car.
type Image struct {
	ID    int64  `json:"id"`
	CarID int64  `json:"car_id"`
	URL   string `json:"url"`
}

// RunState is the lifecycle state of a parsing run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunError     RunState = "error"
	RunStopped   RunState = "stopped"
)

// Terminal reports whether no further transition is allowed from s.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunError || s == RunStopped
}

// RunStatus tracks one single-page or multi-page invocation.
type RunStatus struct {
	ID           uuid.UUID  `json:"id"`
	URL          string     `json:"url"`
	Status       RunState   `json:"status"`
	CarsParsed   int        `json:"cars_parsed"`
	ImagesParsed int        `json:"images_parsed"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// BlockStatus classifies the outcome of extracting one listing block.
type BlockStatus string

const (
	BlockExtracted BlockStatus = "extracted"
	BlockEmpty     BlockStatus = "empty"
	BlockFailed    BlockStatus = "failed"
)

// BlockResult is the audit entry for one listing block on a page.
type BlockResult struct {
	Index   int              `json:"index"`
	Status  BlockStatus      `json:"status"`
	Record  *CandidateRecord `json:"record,omitempty"`
	Missing []string         `json:"missing,omitempty"`
	Err     error            `json:"-"`
}

// Config holds the configuration for the parser
type Config struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
	AcceptLanguage    string

	SiteOrigin         string
	ListingURLTemplate string

	PageDelay       time.Duration
	PageDelayJitter time.Duration
	MinPageDelay    time.Duration
	MaxPages        int
	EmptyPageLimit  int

	ResultsDir  string
	DatabaseURL string
	MaxDBConns  int
	APIPort     string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:            15 * time.Second,
		RequestsPerSecond:  1,
		UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage:     "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
		SiteOrigin:         "https://japantransit.ru",
		ListingURLTemplate: "https://japantransit.ru/auctions/?sortstat=AUCTION_DATE+asc&page={page}",
		PageDelay:          3 * time.Second,
		PageDelayJitter:    2 * time.Second,
		MinPageDelay:       1 * time.Second,
		MaxPages:           50,
		EmptyPageLimit:     3,
		ResultsDir:         "json_results",
		MaxDBConns:         4,
		APIPort:            "8080",
	}
}

// Logger defines the logging interface
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
