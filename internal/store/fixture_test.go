package store

import (
	"context"
	"database/sql"
	"testing"
	_ "time/tzdata"

	"github.com/dukerupert/pursue/internal/database"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	db       *sql.DB
	users    *UserStore
	progress *ProgressStore
	groupID  int64
	userID   int64
	goalID   int64
}

// setupFixture creates one user in one group with one daily goal.
func setupFixture(t *testing.T, timezone string) fixture {
	t.Helper()
	ctx := context.Background()
	db := openTestDB(t)

	users := NewUserStore(db)
	progress := NewProgressStore(db)

	u, err := users.Create(ctx, "Alice", timezone)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	groupID, err := progress.CreateGroup(ctx, "Runners")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := progress.AddMember(ctx, groupID, u.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	g, err := progress.CreateGoal(ctx, groupID, "Run 5k", "daily")
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}

	return fixture{db: db, users: users, progress: progress, groupID: groupID, userID: u.ID, goalID: g.ID}
}
