package server

import (
	"fmt"
	"log"
	"time"

	"gridsnakes/server/storage"
)

// ensureUser creates the account when it does not exist yet.
func ensureUser(store storage.Storage, userID, username, password string) error {
	existing, err := store.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", userID, err)
	}
	if existing != nil {
		return nil
	}
	return store.PutUser(storage.User{
		UserID:       userID,
		Username:     username,
		PasswordHash: password,
		CreatedAt:    time.Now().Unix(),
	})
}

// Seed ensures the two demo users and one snake each, then flushes and
// reloads so the persisted board matches memory.
func Seed(store storage.Storage, game *GameService) error {
	if err := ensureUser(store, "1", "user1", "pass1"); err != nil {
		return err
	}
	if err := ensureUser(store, "2", "user2", "pass2"); err != nil {
		return err
	}

	game.LoadFromStorage()
	if len(game.World().ListUserSnakes(1)) == 0 {
		game.World().CreateSnakeForUser(1, "#00ff00")
	}
	if len(game.World().ListUserSnakes(2)) == 0 {
		game.World().CreateSnakeForUser(2, "#00aaff")
	}
	game.FlushPersistenceDelta()
	game.LoadFromStorage()

	log.Printf("seeded users user1/pass1 and user2/pass2 with one snake each")
	return nil
}
