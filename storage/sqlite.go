package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig names the database file and the seven logical tables.
type SQLiteConfig struct {
	Path               string
	UsersTable         string
	SnakesTable        string
	WorldChunksTable   string
	SnakeEventsTable   string
	SettingsTable      string
	EconomyParamsTable string
	EconomyPeriodTable string
}

// DefaultSQLiteConfig returns the standard file path and table names.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:               "./snake.db",
		UsersTable:         "users",
		SnakesTable:        "snakes",
		WorldChunksTable:   "world_chunks",
		SnakeEventsTable:   "snake_events",
		SettingsTable:      "settings",
		EconomyParamsTable: "economy_params",
		EconomyPeriodTable: "economy_period",
	}
}

// SQLiteStorage implements Storage over a single sqlite file. Counter updates
// are single-statement arithmetic UPDATEs, which gives the atomic-increment
// semantics the contract requires.
type SQLiteStorage struct {
	db  *sql.DB
	cfg SQLiteConfig
}

const (
	incrementAttempts = 3
	incrementBackoff  = 50 * time.Millisecond
)

// OpenSQLite opens (or creates) the database and ensures all seven tables.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStorage{db: db, cfg: cfg}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initTables() error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			balance_mi INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL DEFAULT 0
		)`, s.cfg.UsersTable),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_username ON %s (username)`, s.cfg.UsersTable, s.cfg.UsersTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			snake_id TEXT PRIMARY KEY,
			owner_user_id TEXT NOT NULL,
			alive INTEGER NOT NULL DEFAULT 1,
			head_x INTEGER NOT NULL DEFAULT 0,
			head_y INTEGER NOT NULL DEFAULT 0,
			direction INTEGER NOT NULL DEFAULT 0,
			paused INTEGER NOT NULL DEFAULT 0,
			length_k INTEGER NOT NULL DEFAULT 0,
			is_on_field INTEGER NOT NULL DEFAULT 0,
			body_compact TEXT NOT NULL DEFAULT '[]',
			color TEXT NOT NULL DEFAULT '',
			last_event_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`, s.cfg.SnakesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id TEXT PRIMARY KEY,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			obstacles TEXT NOT NULL DEFAULT '[]',
			food_state TEXT NOT NULL DEFAULT '[]',
			version INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`, s.cfg.WorldChunksTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			snake_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			x INTEGER NOT NULL DEFAULT 0,
			y INTEGER NOT NULL DEFAULT 0,
			other_snake_id TEXT NOT NULL DEFAULT '',
			delta_length INTEGER NOT NULL DEFAULT 0,
			tick_number INTEGER NOT NULL DEFAULT 0,
			world_version INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (snake_id, event_id)
		)`, s.cfg.SnakeEventsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			settings_id TEXT PRIMARY KEY,
			payload_json TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL DEFAULT 0
		)`, s.cfg.SettingsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			params_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			k_land INTEGER NOT NULL DEFAULT 24,
			a_productivity REAL NOT NULL DEFAULT 1.0,
			v_velocity REAL NOT NULL DEFAULT 2.0,
			m_gov_reserve INTEGER NOT NULL DEFAULT 400,
			cap_delta_m INTEGER NOT NULL DEFAULT 5000,
			delta_m_issue INTEGER NOT NULL DEFAULT 0,
			delta_k_obs INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0,
			updated_by TEXT NOT NULL DEFAULT ''
		)`, s.cfg.EconomyParamsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			period_key TEXT PRIMARY KEY,
			delta_m_buy INTEGER NOT NULL DEFAULT 0,
			computed_m INTEGER NOT NULL DEFAULT 0,
			computed_k INTEGER NOT NULL DEFAULT 0,
			computed_y INTEGER NOT NULL DEFAULT 0,
			computed_p INTEGER NOT NULL DEFAULT 0,
			computed_pi INTEGER NOT NULL DEFAULT 0,
			computed_world_area INTEGER NOT NULL DEFAULT 0,
			computed_white INTEGER NOT NULL DEFAULT 0,
			computed_at INTEGER NOT NULL DEFAULT 0
		)`, s.cfg.EconomyPeriodTable),
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init tables: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) ListUsers() ([]User, error) {
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT user_id, username, password_hash, balance_mi, created_at FROM %s ORDER BY user_id`, s.cfg.UsersTable))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UserID, &u.Username, &u.PasswordHash, &u.BalanceMi, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) GetUserByUsername(username string) (*User, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT user_id, username, password_hash, balance_mi, created_at FROM %s WHERE username = ?`, s.cfg.UsersTable), username)
	return scanUser(row)
}

func (s *SQLiteStorage) GetUserByID(userID string) (*User, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT user_id, username, password_hash, balance_mi, created_at FROM %s WHERE user_id = ?`, s.cfg.UsersTable), userID)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.UserID, &u.Username, &u.PasswordHash, &u.BalanceMi, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStorage) PutUser(u User) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO %s (user_id, username, password_hash, balance_mi, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			password_hash = excluded.password_hash,
			balance_mi = excluded.balance_mi,
			created_at = excluded.created_at`, s.cfg.UsersTable),
		u.UserID, u.Username, u.PasswordHash, u.BalanceMi, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("put user %s: %w", u.UserID, err)
	}
	return nil
}

func (s *SQLiteStorage) ListSnakes() ([]SnakeRecord, error) {
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT snake_id, owner_user_id, alive, head_x, head_y, direction, paused, length_k,
			is_on_field, body_compact, color, last_event_id, created_at, updated_at
		 FROM %s ORDER BY snake_id`, s.cfg.SnakesTable))
	if err != nil {
		return nil, fmt.Errorf("list snakes: %w", err)
	}
	defer rows.Close()

	var out []SnakeRecord
	for rows.Next() {
		var r SnakeRecord
		if err := rows.Scan(&r.SnakeID, &r.OwnerUserID, &r.Alive, &r.HeadX, &r.HeadY, &r.Direction,
			&r.Paused, &r.LengthK, &r.IsOnField, &r.BodyCompact, &r.Color, &r.LastEventID,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan snake: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) GetSnake(snakeID string) (*SnakeRecord, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT snake_id, owner_user_id, alive, head_x, head_y, direction, paused, length_k,
			is_on_field, body_compact, color, last_event_id, created_at, updated_at
		 FROM %s WHERE snake_id = ?`, s.cfg.SnakesTable), snakeID)

	var r SnakeRecord
	err := row.Scan(&r.SnakeID, &r.OwnerUserID, &r.Alive, &r.HeadX, &r.HeadY, &r.Direction,
		&r.Paused, &r.LengthK, &r.IsOnField, &r.BodyCompact, &r.Color, &r.LastEventID,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snake %s: %w", snakeID, err)
	}
	return &r, nil
}

func (s *SQLiteStorage) PutSnake(r SnakeRecord) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO %s (snake_id, owner_user_id, alive, head_x, head_y, direction, paused, length_k,
			is_on_field, body_compact, color, last_event_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(snake_id) DO UPDATE SET
			owner_user_id = excluded.owner_user_id,
			alive = excluded.alive,
			head_x = excluded.head_x,
			head_y = excluded.head_y,
			direction = excluded.direction,
			paused = excluded.paused,
			length_k = excluded.length_k,
			is_on_field = excluded.is_on_field,
			body_compact = excluded.body_compact,
			color = excluded.color,
			last_event_id = excluded.last_event_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`, s.cfg.SnakesTable),
		r.SnakeID, r.OwnerUserID, r.Alive, r.HeadX, r.HeadY, r.Direction, r.Paused, r.LengthK,
		r.IsOnField, r.BodyCompact, r.Color, r.LastEventID, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put snake %s: %w", r.SnakeID, err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteSnake(snakeID string) error {
	_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE snake_id = ?`, s.cfg.SnakesTable), snakeID)
	if err != nil {
		return fmt.Errorf("delete snake %s: %w", snakeID, err)
	}
	return nil
}

func (s *SQLiteStorage) GetWorldChunk(chunkID string) (*WorldChunk, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT chunk_id, width, height, obstacles, food_state, version, updated_at
		 FROM %s WHERE chunk_id = ?`, s.cfg.WorldChunksTable), chunkID)

	var c WorldChunk
	err := row.Scan(&c.ChunkID, &c.Width, &c.Height, &c.Obstacles, &c.FoodState, &c.Version, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get world chunk %s: %w", chunkID, err)
	}
	return &c, nil
}

func (s *SQLiteStorage) PutWorldChunk(c WorldChunk) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO %s (chunk_id, width, height, obstacles, food_state, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chunk_id) DO UPDATE SET
			width = excluded.width,
			height = excluded.height,
			obstacles = excluded.obstacles,
			food_state = excluded.food_state,
			version = excluded.version,
			updated_at = excluded.updated_at`, s.cfg.WorldChunksTable),
		c.ChunkID, c.Width, c.Height, c.Obstacles, c.FoodState, c.Version, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put world chunk %s: %w", c.ChunkID, err)
	}
	return nil
}

func (s *SQLiteStorage) AppendSnakeEvent(e SnakeEvent) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT OR IGNORE INTO %s (snake_id, event_id, event_type, x, y, other_snake_id,
			delta_length, tick_number, world_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.cfg.SnakeEventsTable),
		e.SnakeID, e.EventID, e.EventType, e.X, e.Y, e.OtherSnakeID,
		e.DeltaLength, e.TickNumber, e.WorldVersion, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append snake event %s/%s: %w", e.SnakeID, e.EventID, err)
	}
	return nil
}

func (s *SQLiteStorage) GetSettings(settingsID string) (*Settings, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT settings_id, payload_json, updated_at FROM %s WHERE settings_id = ?`, s.cfg.SettingsTable), settingsID)

	var out Settings
	err := row.Scan(&out.SettingsID, &out.PayloadJSON, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings %s: %w", settingsID, err)
	}
	return &out, nil
}

func (s *SQLiteStorage) PutSettings(v Settings) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO %s (settings_id, payload_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(settings_id) DO UPDATE SET
			payload_json = excluded.payload_json,
			updated_at = excluded.updated_at`, s.cfg.SettingsTable),
		v.SettingsID, v.PayloadJSON, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put settings %s: %w", v.SettingsID, err)
	}
	return nil
}

const activeParamsID = "active"

func (s *SQLiteStorage) GetEconomyParamsActive() (*EconomyParams, error) {
	return s.getEconomyParams(activeParamsID)
}

func (s *SQLiteStorage) getEconomyParams(paramsID string) (*EconomyParams, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT version, k_land, a_productivity, v_velocity, m_gov_reserve, cap_delta_m,
			delta_m_issue, delta_k_obs, updated_at, updated_by
		 FROM %s WHERE params_id = ?`, s.cfg.EconomyParamsTable), paramsID)

	var p EconomyParams
	err := row.Scan(&p.Version, &p.KLand, &p.AProductivity, &p.VVelocity, &p.MGovReserve,
		&p.CapDeltaM, &p.DeltaMIssue, &p.DeltaKObs, &p.UpdatedAt, &p.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get economy params %s: %w", paramsID, err)
	}
	return &p, nil
}

func (s *SQLiteStorage) PutEconomyParamsActiveAndVersioned(p EconomyParams, updatedBy string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("params tx: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	row := tx.QueryRow(fmt.Sprintf(`SELECT version FROM %s WHERE params_id = ?`, s.cfg.EconomyParamsTable), activeParamsID)
	if err := row.Scan(&currentVersion); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read active params version: %w", err)
	}
	if p.Version <= currentVersion {
		p.Version = currentVersion + 1
	}
	p.UpdatedBy = updatedBy

	upsert := fmt.Sprintf(
		`INSERT INTO %s (params_id, version, k_land, a_productivity, v_velocity, m_gov_reserve,
			cap_delta_m, delta_m_issue, delta_k_obs, updated_at, updated_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(params_id) DO UPDATE SET
			version = excluded.version,
			k_land = excluded.k_land,
			a_productivity = excluded.a_productivity,
			v_velocity = excluded.v_velocity,
			m_gov_reserve = excluded.m_gov_reserve,
			cap_delta_m = excluded.cap_delta_m,
			delta_m_issue = excluded.delta_m_issue,
			delta_k_obs = excluded.delta_k_obs,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by`, s.cfg.EconomyParamsTable)

	// History row first, then the active overwrite.
	historyID := fmt.Sprintf("ver#%d", p.Version)
	if _, err := tx.Exec(upsert, historyID, p.Version, p.KLand, p.AProductivity, p.VVelocity,
		p.MGovReserve, p.CapDeltaM, p.DeltaMIssue, p.DeltaKObs, p.UpdatedAt, p.UpdatedBy); err != nil {
		return fmt.Errorf("write params history %s: %w", historyID, err)
	}
	if _, err := tx.Exec(upsert, activeParamsID, p.Version, p.KLand, p.AProductivity, p.VVelocity,
		p.MGovReserve, p.CapDeltaM, p.DeltaMIssue, p.DeltaKObs, p.UpdatedAt, p.UpdatedBy); err != nil {
		return fmt.Errorf("write active params: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStorage) GetEconomyPeriod(periodKey string) (*EconomyPeriod, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT period_key, delta_m_buy, computed_m, computed_k, computed_y, computed_p,
			computed_pi, computed_world_area, computed_white, computed_at
		 FROM %s WHERE period_key = ?`, s.cfg.EconomyPeriodTable), periodKey)

	var p EconomyPeriod
	err := row.Scan(&p.PeriodKey, &p.DeltaMBuy, &p.ComputedM, &p.ComputedK, &p.ComputedY,
		&p.ComputedP, &p.ComputedPi, &p.ComputedWorldArea, &p.ComputedWhite, &p.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get economy period %s: %w", periodKey, err)
	}
	return &p, nil
}

func (s *SQLiteStorage) PutEconomyPeriod(p EconomyPeriod) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO %s (period_key, delta_m_buy, computed_m, computed_k, computed_y, computed_p,
			computed_pi, computed_world_area, computed_white, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(period_key) DO UPDATE SET
			delta_m_buy = excluded.delta_m_buy,
			computed_m = excluded.computed_m,
			computed_k = excluded.computed_k,
			computed_y = excluded.computed_y,
			computed_p = excluded.computed_p,
			computed_pi = excluded.computed_pi,
			computed_world_area = excluded.computed_world_area,
			computed_white = excluded.computed_white,
			computed_at = excluded.computed_at`, s.cfg.EconomyPeriodTable),
		p.PeriodKey, p.DeltaMBuy, p.ComputedM, p.ComputedK, p.ComputedY, p.ComputedP,
		p.ComputedPi, p.ComputedWorldArea, p.ComputedWhite, p.ComputedAt)
	if err != nil {
		return fmt.Errorf("put economy period %s: %w", p.PeriodKey, err)
	}
	return nil
}

func (s *SQLiteStorage) IncrementUserBalance(userID string, delta int64) error {
	return s.withIncrementRetry(func() error {
		result, err := s.db.Exec(fmt.Sprintf(
			`UPDATE %s SET balance_mi = balance_mi + ? WHERE user_id = ?`, s.cfg.UsersTable), delta, userID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("user %s not found", userID)
		}
		return nil
	})
}

func (s *SQLiteStorage) IncrementEconomyPeriodDeltaMBuy(periodKey string, delta int64) error {
	return s.withIncrementRetry(func() error {
		_, err := s.db.Exec(fmt.Sprintf(
			`INSERT INTO %s (period_key, delta_m_buy) VALUES (?, ?)
			 ON CONFLICT(period_key) DO UPDATE SET delta_m_buy = delta_m_buy + excluded.delta_m_buy`,
			s.cfg.EconomyPeriodTable), periodKey, delta)
		return err
	})
}

// withIncrementRetry retries counter updates with linear backoff. Everything
// else in this store is single-shot.
func (s *SQLiteStorage) withIncrementRetry(op func() error) error {
	var err error
	for attempt := 1; attempt <= incrementAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt < incrementAttempts {
			time.Sleep(time.Duration(attempt) * incrementBackoff)
		}
	}
	return fmt.Errorf("increment failed after %d attempts: %w", incrementAttempts, err)
}

func (s *SQLiteStorage) HealthCheck() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ResetForDev() error {
	tables := []string{
		s.cfg.UsersTable,
		s.cfg.SnakesTable,
		s.cfg.WorldChunksTable,
		s.cfg.SnakeEventsTable,
		s.cfg.SettingsTable,
		s.cfg.EconomyParamsTable,
		s.cfg.EconomyPeriodTable,
	}
	var failures []string
	for _, table := range tables {
		if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", table, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("reset failed: %s", strings.Join(failures, "; "))
	}
	return nil
}
