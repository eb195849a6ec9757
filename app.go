package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridsnakes/server/storage"
)

// StorageConfigFromEnv names the database file and the seven tables.
func StorageConfigFromEnv() storage.SQLiteConfig {
	cfg := storage.DefaultSQLiteConfig()
	if v := os.Getenv("SNAKE_DB_PATH"); v != "" {
		cfg.Path = v
	}
	if v := os.Getenv("SNAKE_TABLE_USERS"); v != "" {
		cfg.UsersTable = v
	}
	if v := os.Getenv("SNAKE_TABLE_SNAKES"); v != "" {
		cfg.SnakesTable = v
	}
	if v := os.Getenv("SNAKE_TABLE_WORLD_CHUNKS"); v != "" {
		cfg.WorldChunksTable = v
	}
	if v := os.Getenv("SNAKE_TABLE_SNAKE_EVENTS"); v != "" {
		cfg.SnakeEventsTable = v
	}
	if v := os.Getenv("SNAKE_TABLE_SETTINGS"); v != "" {
		cfg.SettingsTable = v
	}
	if v := os.Getenv("SNAKE_TABLE_ECONOMY_PARAMS"); v != "" {
		cfg.EconomyParamsTable = v
	}
	if v := os.Getenv("SNAKE_TABLE_ECONOMY_PERIOD"); v != "" {
		cfg.EconomyPeriodTable = v
	}
	return cfg
}

// Run is the process entry point: parse the mode, boot storage, and either
// run a one-shot dev command or serve until a shutdown signal.
func Run(args []string) error {
	mode := "serve"
	if len(args) >= 1 {
		mode = args[0]
	}
	if mode != "serve" && mode != "seed" && mode != "reset" {
		return fmt.Errorf("usage: snaked [serve|seed|reset]")
	}

	cfg := RuntimeConfigFromEnv()
	log.Printf("RuntimeConfig: TICK_HZ=%d, SPECTATOR_HZ=%d, PLAYER_HZ=%d, ENABLE_BROADCAST=%t, DEBUG_TPS=%t",
		cfg.TickHz, cfg.SpectatorHz, cfg.PlayerHz, cfg.EnableBroadcast, cfg.DebugTPS)

	store, err := storage.OpenSQLite(StorageConfigFromEnv())
	if err != nil {
		return fmt.Errorf("storage config error: %w", err)
	}
	defer store.Close()

	if err := store.HealthCheck(); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}

	// The read and write paths both assume an active economy policy row.
	active, err := store.GetEconomyParamsActive()
	if err != nil {
		return fmt.Errorf("read active economy params: %w", err)
	}
	if active == nil {
		defaults := storage.DefaultEconomyParams()
		defaults.UpdatedAt = time.Now().Unix()
		if err := store.PutEconomyParamsActiveAndVersioned(defaults, "bootstrap"); err != nil {
			return fmt.Errorf("initialize active economy params: %w", err)
		}
	}

	game := NewGameService(store, cfg, nil)
	eco := NewEconomyService(store)
	game.LoadFromStorage()
	game.FlushPersistenceDelta()

	switch mode {
	case "reset":
		if err := store.ResetForDev(); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		log.Printf("storage reset complete")
		return nil
	case "seed":
		return Seed(store, game)
	}

	broadcaster := NewBroadcaster()
	sched := NewScheduler(game, broadcaster, cfg)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(stop)
	}()

	reloads := make(chan os.Signal, 1)
	signal.Notify(reloads, syscall.SIGUSR1, syscall.SIGHUP)
	go func() {
		for range reloads {
			sched.RequestReload()
		}
	}()

	if path := os.Getenv("SNAKE_RELOAD_FILE"); path != "" {
		if err := WatchReloadFile(path, sched, stop); err != nil {
			log.Printf("reload file watch failed for %s: %v", path, err)
		}
	}

	handler := NewHTTPHandler(HTTPDeps{
		Game:        game,
		Economy:     eco,
		Auth:        NewAuthState(),
		Sessions:    NewSessionRegistry(cfg),
		Broadcaster: broadcaster,
		Runtime:     cfg,
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort)
	srv := &http.Server{Addr: addr, Handler: handler}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Printf("server on http://%s", addr)
	log.Printf("SSE:   GET /game/stream")
	log.Printf("State: GET /game/state")
	log.Printf("Login: POST /auth/login {username,password}")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		close(stop)
		<-done
		return fmt.Errorf("server failed: %w", err)
	}

	close(stop)
	<-done
	return nil
}
