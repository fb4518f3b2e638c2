package testutil

import (
	"testing"
	"time"

	"fedipost/internal/database"
	"fedipost/internal/model"
)

// NewTestSQLiteStore is NewTestStore returning the concrete type, for tests
// that seed rows the pipeline only reads (users, blocks, options, asks).
func NewTestSQLiteStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := sqlDB.Exec(database.Schema); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	store := database.NewSQLiteStoreFromDB(sqlDB)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedUser inserts a user row.
func SeedUser(t *testing.T, store *database.SQLiteStore, u *model.User) {
	t.Helper()
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	_, err := store.DB().Exec(`
INSERT INTO users (id, handle, name, remote_id, remote_mention_url, nsfw, banned, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Handle, u.Name, u.RemoteID, u.RemoteMentionURL, u.NSFW, u.Banned, created)
	if err != nil {
		t.Fatalf("seeding user %s: %v", u.ID, err)
	}
}

// SeedBlock inserts a directed block row.
func SeedBlock(t *testing.T, store *database.SQLiteStore, blockerID, blockedID string) {
	t.Helper()
	_, err := store.DB().Exec(
		"INSERT INTO blocks (blocker_id, blocked_id) VALUES (?, ?)", blockerID, blockedID)
	if err != nil {
		t.Fatalf("seeding block %s->%s: %v", blockerID, blockedID, err)
	}
}

// SeedUserOption inserts a per-user option row.
func SeedUserOption(t *testing.T, store *database.SQLiteStore, userID, name, value string) {
	t.Helper()
	_, err := store.DB().Exec(
		"INSERT INTO user_options (user_id, name, value) VALUES (?, ?, ?)", userID, name, value)
	if err != nil {
		t.Fatalf("seeding option %s for %s: %v", name, userID, err)
	}
}

// SeedAsk inserts an unanswered ask and returns its id.
func SeedAsk(t *testing.T, store *database.SQLiteStore, userAskedID, userAskerID string) int64 {
	t.Helper()
	res, err := store.DB().Exec(
		"INSERT INTO asks (user_asked_id, user_asker_id) VALUES (?, ?)", userAskedID, userAskerID)
	if err != nil {
		t.Fatalf("seeding ask for %s: %v", userAskedID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("reading ask id: %v", err)
	}
	return id
}

// SeedEmoji inserts a custom emoji; name carries the colons (":tada:").
func SeedEmoji(t *testing.T, store *database.SQLiteStore, id, name, url string) {
	t.Helper()
	_, err := store.DB().Exec(
		"INSERT INTO emojis (id, name, url) VALUES (?, ?, ?)", id, name, url)
	if err != nil {
		t.Fatalf("seeding emoji %s: %v", name, err)
	}
}

// SeedMedia inserts an unattached media row.
func SeedMedia(t *testing.T, store *database.SQLiteStore, mediaID string) {
	t.Helper()
	_, err := store.DB().Exec("INSERT INTO medias (id) VALUES (?)", mediaID)
	if err != nil {
		t.Fatalf("seeding media %s: %v", mediaID, err)
	}
}

// CountPosts returns the number of post rows.
func CountPosts(t *testing.T, store *database.SQLiteStore) int {
	t.Helper()
	var n int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM posts").Scan(&n); err != nil {
		t.Fatalf("counting posts: %v", err)
	}
	return n
}
