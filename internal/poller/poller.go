// Package poller implements C9: draining new inbound messages out of the
// bridge's message store and handing each to the processor in timestamp
// order. The primary implementation (Poller) polls a read-only SQLite
// connection on a ticker; logwatcher.go provides the file-tail
// alternative for bridges that expose their traffic as a line-oriented
// log instead of a queryable store.
package poller

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
)

// Processor is the subset of processor.Pool the poller feeds. Unlike the
// fire-and-forget Submit used by other producers, the poller needs the
// terminal result back so it never advances its cursor past a message
// whose pipeline hasn't actually finished.
type Processor interface {
	SubmitAndWait(ctx context.Context, msg *domain.IncomingMessage) *domain.ProcessingResult
}

// row mirrors one messages record from the bridge's store.
type row struct {
	id        string
	chatJID   string
	content   string
	timestamp time.Time
	sender    string
	mediaType string
	filename  string
}

// Poller polls the bridge's read-only messages table on a ticker
// and submits each new row to the processor in ascending timestamp order.
type Poller struct {
	db   *sql.DB
	proc Processor
	cfg  func() *config.Config
	log  *slog.Logger

	cursor time.Time

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New builds a Poller reading from db, the bridge's own SQLite file opened
// read-only (e.g. "file:bridge_store.db?mode=ro"). since is the timestamp
// cursor to resume from (zero value polls everything currently present).
func New(db *sql.DB, proc Processor, cfg func() *config.Config, since time.Time, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{db: db, proc: proc, cfg: cfg, cursor: since, log: log, stopCh: make(chan struct{})}
}

// Cursor reports the last timestamp successfully advanced past.
func (p *Poller) Cursor() time.Time {
	return p.cursor
}

// Start launches the ticker-driven poll loop with the same wg.Add(1); go ...
// shape as the rate guard's idle sweep; the loop exits when Stop closes its
// channel or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts the poll loop and waits for the in-flight tick to finish.
func (p *Poller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg().Polling.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick drains one batch of rows, processes them by address — different
// addresses run concurrently, bounded by the pool's own concurrency cap, but
// two rows for the same address within a batch run one at a time, in fetch
// order, on a single goroutine, rather than as independently racing
// goroutines. fetch sorts ascending by timestamp, so each address's
// goroutine submits its own rows in that same order, preserving the
// same-address processing order the dedup/rate guard and downstream state
// (registration step, role) depend on. The cursor advances only once every
// row in the batch has produced a terminal result — success, denial,
// timeout, or duplicate all count, since each has already recorded its
// message id in the dedup set (§4.9, §8 property 1). A row that never
// terminates (e.g. the process exits mid tick) is retried from the same
// cursor on the next run.
func (p *Poller) tick(ctx context.Context) {
	cfg := p.cfg()
	rows, err := p.fetch(ctx, cfg.Polling.BatchSize)
	if err != nil {
		p.log.Warn("poller: fetch failed, cursor not advanced", "err", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	bySender := make(map[string][]row, len(rows))
	senders := make([]string, 0, len(rows))
	for _, r := range rows {
		if _, ok := bySender[r.sender]; !ok {
			senders = append(senders, r.sender)
		}
		bySender[r.sender] = append(bySender[r.sender], r)
	}

	var wg sync.WaitGroup
	wg.Add(len(senders))
	for _, sender := range senders {
		go func(rows []row) {
			defer wg.Done()
			for _, r := range rows {
				result := p.proc.SubmitAndWait(ctx, &domain.IncomingMessage{
					ID:        r.id,
					Sender:    r.sender,
					Content:   r.content,
					Kind:      kindOf(r.mediaType),
					Timestamp: r.timestamp,
					Metadata:  map[string]string{"chatJID": r.chatJID, "filename": r.filename},
				})
				if result.Outcome == domain.OutcomeFailed {
					p.log.Warn("poller: message processing failed", "id", r.id, "sender", r.sender)
				}
			}
		}(bySender[sender])
	}
	wg.Wait()

	p.cursor = rows[len(rows)-1].timestamp
}

// fetch queries the bridge's read-only store for messages newer than the
// cursor, excluding our own outbound traffic and empty system rows.
func (p *Poller) fetch(ctx context.Context, limit int) ([]row, error) {
	const q = `
		SELECT m.id, m.chat_jid, m.content, m.timestamp, m.sender, m.media_type, m.filename
		FROM messages m
		WHERE m.timestamp > ? AND m.is_from_me = 0 AND (m.content != '' OR m.media_type != '')
		ORDER BY m.timestamp ASC
		LIMIT ?`

	rows, err := p.db.QueryContext(ctx, q, p.cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.chatJID, &r.content, &r.timestamp, &r.sender, &r.mediaType, &r.filename); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func kindOf(mediaType string) domain.MessageKind {
	switch mediaType {
	case "":
		return domain.KindText
	case "image":
		return domain.KindImage
	case "audio", "ptt":
		return domain.KindAudio
	case "video":
		return domain.KindVideo
	case "document":
		return domain.KindDocument
	case "sticker":
		return domain.KindSticker
	case "location":
		return domain.KindLocation
	default:
		return domain.KindOther
	}
}
