package processor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
)

// Pool bounds how many pipelines run at once: a counting semaphore caps
// concurrent Process calls, and a bounded queue absorbs the burst ahead of
// it. Once the queue is also full, new inbound is dropped and logged
// rather than applying backpressure to the poller.
type Pool struct {
	proc *Processor
	cfg  func() *config.Config
	log  *slog.Logger

	sem   chan struct{}
	queue chan *domain.IncomingMessage

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	onResult func(*domain.ProcessingResult)
}

// NewPool builds a Pool around proc. onResult, if non-nil, is called with
// every terminal ProcessingResult. The poller does not use it: it takes the
// result returned by SubmitAndWait instead.
func NewPool(proc *Processor, cfg func() *config.Config, log *slog.Logger, onResult func(*domain.ProcessingResult)) *Pool {
	if log == nil {
		log = slog.Default()
	}
	c := cfg()
	return &Pool{
		proc:     proc,
		cfg:      cfg,
		log:      log,
		sem:      make(chan struct{}, c.Concurrency.MaxInFlight),
		queue:    make(chan *domain.IncomingMessage, c.Concurrency.QueueCapacity),
		stopCh:   make(chan struct{}),
		onResult: onResult,
	}
}

// Start launches the dispatch loop that drains queue into sem-gated
// worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case msg := <-p.queue:
			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			}
			p.wg.Add(1)
			go func(m *domain.IncomingMessage) {
				// onComplete fires once the pipeline has actually
				// terminated, which may be well after Process returns on
				// its own processing timeout — releasing the semaphore
				// slot and this goroutine's wait-group entry any earlier
				// would hand out capacity still held by in-flight work.
				result := p.proc.Process(ctx, m, func() {
					<-p.sem
					p.wg.Done()
				})
				if p.onResult != nil {
					p.onResult(result)
				}
			}(msg)
		}
	}
}

// Submit enqueues msg for processing. It never blocks: if the bounded
// queue is full, msg is dropped and a warning is logged (§5.2).
func (p *Pool) Submit(msg *domain.IncomingMessage) {
	select {
	case p.queue <- msg:
	default:
		p.log.Warn("processor: queue full, dropping inbound message", "address", msg.Sender, "id", msg.ID)
	}
}

// SubmitAndWait runs msg through the same concurrency-capped path as
// Submit, but blocks until a terminal ProcessingResult is available. The
// poller uses this instead of Submit specifically because it must not
// advance its cursor past a message until that message's pipeline has
// actually terminated (§4.9, §8 property 1) — fire-and-forget Submit gives
// no such signal.
func (p *Pool) SubmitAndWait(ctx context.Context, msg *domain.IncomingMessage) *domain.ProcessingResult {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return &domain.ProcessingResult{ID: msg.ID, Outcome: domain.OutcomeTimeout}
	case <-p.stopCh:
		return &domain.ProcessingResult{ID: msg.ID, Outcome: domain.OutcomeTimeout}
	}

	// The semaphore slot is only released once the pipeline itself
	// terminates, not when Process returns on its own processing timeout.
	result := p.proc.Process(ctx, msg, func() { <-p.sem })
	if p.onResult != nil {
		p.onResult(result)
	}
	return result
}

// Stop halts the dispatch loop and waits for in-flight work to finish.
// Callers should bound how long they wait via ctx.
func (p *Pool) Stop(ctx context.Context) {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn("processor: shutdown deadline hit with work still in flight")
	}
}
