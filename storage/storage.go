// Package storage defines the persistence capability set the simulator needs
// and its concrete implementations. The contract is a wide-column key/value
// shape: keyed get/put/delete/scan over seven logical tables plus two atomic
// counter operations. Implementations are interchangeable; tests use the
// in-memory one.
package storage

// User is an account row. Balances mutate only through IncrementUserBalance.
type User struct {
	UserID       string
	Username     string
	PasswordHash string
	BalanceMi    int64
	CreatedAt    int64
}

// SnakeRecord is the persisted form of a live snake. Per-tick movement is
// never written; rows change only when gameplay events or input changes mark
// the snake dirty.
type SnakeRecord struct {
	SnakeID     string
	OwnerUserID string
	Alive       bool
	HeadX       int
	HeadY       int
	Direction   int
	Paused      bool
	LengthK     int
	IsOnField   bool
	BodyCompact string
	Color       string
	LastEventID string
	CreatedAt   int64
	UpdatedAt   int64
}

// WorldChunk is the single authoritative world row ("main"): grid bounds,
// encoded food state, and a monotone version.
type WorldChunk struct {
	ChunkID   string
	Width     int
	Height    int
	Obstacles string
	FoodState string
	Version   int64
	UpdatedAt int64
}

// SnakeEvent is one append-only gameplay event. Rows are never mutated.
type SnakeEvent struct {
	SnakeID      string
	EventID      string
	EventType    string
	X            int
	Y            int
	OtherSnakeID string
	DeltaLength  int
	TickNumber   uint64
	WorldVersion int64
	CreatedAt    int64
}

// Settings is an opaque JSON blob keyed by id ("global" by default).
type Settings struct {
	SettingsID  string
	PayloadJSON string
	UpdatedAt   int64
}

// EconomyParams is the active macro-policy row. History rows are appended
// under "ver#N" keys; the active row is overwritten with a strictly
// increasing version.
type EconomyParams struct {
	Version       int
	KLand         int
	AProductivity float64
	VVelocity     float64
	MGovReserve   int64
	CapDeltaM     int64
	DeltaMIssue   int64
	DeltaKObs     int64
	UpdatedAt     int64
	UpdatedBy     string
}

// DefaultEconomyParams returns the bootstrap policy used when no active row
// exists or a read fails.
func DefaultEconomyParams() EconomyParams {
	return EconomyParams{
		Version:       1,
		KLand:         24,
		AProductivity: 1.0,
		VVelocity:     2.0,
		MGovReserve:   400,
		CapDeltaM:     5000,
	}
}

// EconomyPeriod accumulates purchases and caches computed aggregates for one
// YYYYMMDDHH window.
type EconomyPeriod struct {
	PeriodKey         string
	DeltaMBuy         int64
	ComputedM         int64
	ComputedK         int64
	ComputedY         int64
	ComputedP         int64
	ComputedPi        int64
	ComputedWorldArea int64
	ComputedWhite     int64
	ComputedAt        int64
}

// Storage is the full capability set. Every method is single-shot except the
// two counter increments, which retry internally.
type Storage interface {
	// Full user listing backs the low-frequency aggregated economy reads.
	ListUsers() ([]User, error)
	GetUserByUsername(username string) (*User, error)
	GetUserByID(userID string) (*User, error)
	PutUser(u User) error

	ListSnakes() ([]SnakeRecord, error)
	GetSnake(snakeID string) (*SnakeRecord, error)
	PutSnake(s SnakeRecord) error
	DeleteSnake(snakeID string) error

	GetWorldChunk(chunkID string) (*WorldChunk, error)
	PutWorldChunk(chunk WorldChunk) error

	AppendSnakeEvent(e SnakeEvent) error

	GetSettings(settingsID string) (*Settings, error)
	PutSettings(s Settings) error

	GetEconomyParamsActive() (*EconomyParams, error)
	// PutEconomyParamsActiveAndVersioned appends a "ver#N" history row and
	// then overwrites the active row. Versions are strictly monotone.
	PutEconomyParamsActiveAndVersioned(p EconomyParams, updatedBy string) error
	GetEconomyPeriod(periodKey string) (*EconomyPeriod, error)
	PutEconomyPeriod(p EconomyPeriod) error

	// Atomic counters. Retried up to 3 times with linear backoff inside the
	// implementation; a final failure surfaces as an error.
	IncrementUserBalance(userID string, delta int64) error
	IncrementEconomyPeriodDeltaMBuy(periodKey string, delta int64) error

	HealthCheck() error
	ResetForDev() error
}
