package postgres

import (
	"context"
	"os"
	"testing"
)

func TestOpen_skipIfNoDatabaseURL(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping postgres test")
	}
	st, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()
	ctx := context.Background()

	id, err := st.CreateTask(ctx, "SUB-PG-1")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	task, err := st.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != "pending_assignment" {
		t.Fatalf("new task: %+v", task)
	}
	counts, err := st.CountTasksByStatus(ctx)
	if err != nil {
		t.Fatalf("CountTasksByStatus: %v", err)
	}
	if counts["pending_assignment"] == 0 {
		t.Fatalf("counts: %+v", counts)
	}
}
