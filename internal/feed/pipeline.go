package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/platform/solrpc"
)

// Stream is the subscription transport the pipeline reads from.
type Stream interface {
	Connect(ctx context.Context) error
	Run(ctx context.Context) error
	Subscribe(ctx context.Context, sub solrpc.Subscription) error
	Unsubscribe(ctx context.Context, sub solrpc.Subscription) error
	Notifications() <-chan solrpc.Notification
}

var _ Stream = (*solrpc.WSClient)(nil)

// Config configures a Pipeline.
type Config struct {
	// Watched is the account whose transactions are mirrored. Zero disables
	// the transaction subscription.
	Watched solana.PublicKey
	// LaunchProgram is the program whose logs announce new tokens. Zero
	// disables discovery.
	LaunchProgram solana.PublicKey
	DedupCapacity int
	DedupTTL      time.Duration
	Buffer        int
}

// Pipeline turns a notification stream into deduplicated domain events.
type Pipeline struct {
	cfg     Config
	stream  Stream
	decoder *Decoder
	window  *Window
	seen    domain.SeenSet
	events  chan domain.Event
	logger  *slog.Logger
}

// NewPipeline creates a Pipeline reading from stream.
func NewPipeline(stream Stream, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 5 * time.Minute
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	return &Pipeline{
		cfg:     cfg,
		stream:  stream,
		decoder: NewDecoder(cfg.Watched),
		window:  NewWindow(cfg.DedupCapacity, cfg.DedupTTL),
		events:  make(chan domain.Event, cfg.Buffer),
		logger:  logger.With(slog.String("component", "feed")),
	}
}

// SetSeenSet adds a shared dedup layer behind the local window, so that
// several processes watching the same account act on a transfer once.
func (p *Pipeline) SetSeenSet(s domain.SeenSet) { p.seen = s }

// Events returns the decoded event stream. It is closed when Run returns.
func (p *Pipeline) Events() <-chan domain.Event { return p.events }

// Start registers the base subscriptions and establishes the connection.
// A failure here is fatal.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.cfg.Watched.IsZero() {
		sub := solrpc.Subscription{Kind: solrpc.SubTransaction, Target: p.cfg.Watched}
		if err := p.stream.Subscribe(ctx, sub); err != nil {
			return fmt.Errorf("feed: start: %w", err)
		}
	}
	if !p.cfg.LaunchProgram.IsZero() {
		sub := solrpc.Subscription{Kind: solrpc.SubLogs, Target: p.cfg.LaunchProgram}
		if err := p.stream.Subscribe(ctx, sub); err != nil {
			return fmt.Errorf("feed: start: %w", err)
		}
	}
	if err := p.stream.Connect(ctx); err != nil {
		return fmt.Errorf("feed: start: %w", err)
	}
	return nil
}

// Run pumps notifications into Events until ctx is cancelled or the stream
// gives up. It returns nil on cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.events)

	errc := make(chan error, 1)
	go func() { errc <- p.stream.Run(ctx) }()

	cleanup := time.NewTicker(p.cfg.DedupTTL)
	defer cleanup.Stop()

	notes := p.stream.Notifications()
	for {
		select {
		case n, ok := <-notes:
			if !ok {
				err := <-errc
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			p.handle(ctx, n)
		case <-cleanup.C:
			p.window.Cleanup()
		}
	}
}

// Watch starts price updates for tok's venue accounts.
func (p *Pipeline) Watch(ctx context.Context, tok domain.Token, feeBps uint64) error {
	p.decoder.Track(tok, feeBps)
	for _, acct := range tok.WatchAccounts() {
		sub := solrpc.Subscription{Kind: solrpc.SubAccount, Target: acct}
		if err := p.stream.Subscribe(ctx, sub); err != nil {
			return fmt.Errorf("feed: watch %s: %w", tok.Mint, err)
		}
	}
	p.logger.Info("watching token", slog.String("mint", tok.Mint.String()), slog.String("venue", string(tok.Venue)))
	return nil
}

// Unwatch stops price updates for tok.
func (p *Pipeline) Unwatch(ctx context.Context, tok domain.Token) error {
	var errs []error
	for _, acct := range tok.WatchAccounts() {
		sub := solrpc.Subscription{Kind: solrpc.SubAccount, Target: acct}
		if err := p.stream.Unsubscribe(ctx, sub); err != nil {
			errs = append(errs, err)
		}
	}
	p.decoder.Untrack(tok)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("feed: unwatch %s: %w", tok.Mint, err)
	}
	return nil
}

func (p *Pipeline) handle(ctx context.Context, n solrpc.Notification) {
	events, err := p.decoder.Decode(n)
	if err != nil {
		p.logger.Warn("dropping undecodable notification",
			slog.String("subscription", n.Sub.String()),
			slog.String("error", err.Error()),
		)
	}
	for _, ev := range events {
		if p.duplicate(ctx, ev) {
			continue
		}
		select {
		case p.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) duplicate(ctx context.Context, ev domain.Event) bool {
	key := ev.DedupKey()
	if p.window.IsDuplicate(key) {
		return true
	}
	// Price ticks are per-process state; only signed activity is shared.
	if p.seen == nil || ev.Kind() == domain.EventPriceUpdate {
		return false
	}
	first, err := p.seen.MarkSeen(ctx, fmt.Sprintf("%s:%s:%d", ev.Kind(), key.Signature, key.Slot), p.cfg.DedupTTL)
	if err != nil {
		p.logger.Warn("shared dedup unavailable", slog.String("error", err.Error()))
		return false
	}
	return !first
}
