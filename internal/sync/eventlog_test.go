package syncx_test

import (
	"context"
	"testing"

	"github.com/mind-engage/examgate/internal/db"
	syncx "github.com/mind-engage/examgate/internal/sync"
)

func TestAppendAndPollByOffset(t *testing.T) {
	ctx := context.Background()
	dbh, err := db.Open(ctx, db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer dbh.Close()

	repo := syncx.NewEventRepo(dbh)
	for _, typ := range []string{"attempt.started", "attempt.finished", "attempt.reset"} {
		if err := repo.Append(ctx, syncx.Event{Type: typ, Key: "a1", DataJSON: `{"k":1}`}); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}

	evs, err := repo.After(ctx, 0, 10)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3", len(evs))
	}
	if evs[0].Type != "attempt.started" || evs[0].Offset >= evs[2].Offset {
		t.Fatalf("order/offsets wrong: %+v", evs)
	}

	// Resume from a cursor.
	rest, err := repo.After(ctx, evs[1].Offset, 10)
	if err != nil {
		t.Fatalf("after cursor: %v", err)
	}
	if len(rest) != 1 || rest[0].Type != "attempt.reset" {
		t.Fatalf("cursor resume: %+v", rest)
	}

	// Empty payload defaults to an empty JSON object.
	if err := repo.Append(ctx, syncx.Event{Type: "attempt.force_finished", Key: "a2"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	last, _ := repo.After(ctx, evs[2].Offset, 10)
	if len(last) != 1 || last[0].DataJSON != "{}" {
		t.Fatalf("default payload: %+v", last)
	}
}
