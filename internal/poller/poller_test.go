package poller

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
)

func setupBridgeDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE messages (
			id TEXT PRIMARY KEY,
			chat_jid TEXT,
			content TEXT,
			timestamp DATETIME,
			sender TEXT,
			is_from_me INTEGER,
			media_type TEXT,
			filename TEXT
		)`)
	require.NoError(t, err)
	return db
}

func insertMessage(t *testing.T, db *sql.DB, id, sender, content string, ts time.Time) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO messages (id, chat_jid, content, timestamp, sender, is_from_me, media_type, filename)
		VALUES (?, ?, ?, ?, ?, 0, '', '')`, id, sender, content, ts)
	require.NoError(t, err)
}

// recordingProcessor records the order IDs were submitted in, and can
// optionally block until released so a test can force two addresses'
// goroutines to overlap.
type recordingProcessor struct {
	mu    sync.Mutex
	order []string

	gate map[string]chan struct{} // id -> channel closed to let that call proceed
}

func (p *recordingProcessor) SubmitAndWait(ctx context.Context, msg *domain.IncomingMessage) *domain.ProcessingResult {
	if p.gate != nil {
		if ch, ok := p.gate[msg.ID]; ok {
			<-ch
		}
	}
	p.mu.Lock()
	p.order = append(p.order, msg.ID)
	p.mu.Unlock()
	return &domain.ProcessingResult{ID: msg.ID, Outcome: domain.OutcomeHandled}
}

func testPollerCfgFunc() func() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Polling.BatchSize = 100
	return func() *config.Config { return cfg }
}

func TestPoller_Tick_SameAddressProcessedInTimestampOrder(t *testing.T) {
	db := setupBridgeDB(t)
	base := time.Now().Add(-time.Hour)
	insertMessage(t, db, "m1", "addr-1@s", "first", base)
	insertMessage(t, db, "m2", "addr-1@s", "second", base.Add(time.Second))
	insertMessage(t, db, "m3", "addr-1@s", "third", base.Add(2*time.Second))

	proc := &recordingProcessor{}
	p := New(db, proc, testPollerCfgFunc(), time.Time{}, slog.Default())

	p.tick(context.Background())

	require.Equal(t, []string{"m1", "m2", "m3"}, proc.order)
	require.WithinDuration(t, base.Add(2*time.Second), p.Cursor(), time.Second)
}

func TestPoller_Tick_DifferentAddressesRunConcurrently(t *testing.T) {
	db := setupBridgeDB(t)
	base := time.Now().Add(-time.Hour)
	insertMessage(t, db, "a1", "addr-a@s", "hi", base)
	insertMessage(t, db, "b1", "addr-b@s", "hi", base.Add(time.Millisecond))

	release := make(chan struct{})
	proc := &recordingProcessor{gate: map[string]chan struct{}{"a1": release}}
	p := New(db, proc, testPollerCfgFunc(), time.Time{}, slog.Default())

	done := make(chan struct{})
	go func() {
		p.tick(context.Background())
		close(done)
	}()

	// b1 has no gate, so it can complete without a1 ever unblocking,
	// proving the two addresses are not serialized against each other.
	require.Eventually(t, func() bool {
		proc.mu.Lock()
		defer proc.mu.Unlock()
		for _, id := range proc.order {
			if id == "b1" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	close(release)
	<-done
}

func TestPoller_Tick_EmptyBatchLeavesCursorUnchanged(t *testing.T) {
	db := setupBridgeDB(t)
	proc := &recordingProcessor{}
	since := time.Now().Add(-time.Minute)
	p := New(db, proc, testPollerCfgFunc(), since, slog.Default())

	p.tick(context.Background())

	require.Equal(t, since, p.Cursor())
	require.Empty(t, proc.order)
}
