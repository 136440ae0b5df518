package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/platform"
	"github.com/roach88/pulse/internal/reward"
	"github.com/roach88/pulse/internal/store"
)

// Publisher receives events after the command that produced them commits.
// Implemented by events.Bus.
type Publisher interface {
	Publish(ctx context.Context, evs []ledger.Event)
}

// Engine executes ledger commands and queries against a Store.
//
// Thread-safety: all methods are safe for concurrent use. Commands are
// serialized by the store's single-connection transactions.
type Engine struct {
	store     *store.Store
	clock     *Clock
	wall      WallClock
	ids       CommandIDGenerator
	publisher Publisher
	logger    *slog.Logger
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithWallClock sets the time source used for deadline checks.
// Default: SystemClock.
func WithWallClock(c WallClock) Option {
	return func(e *Engine) { e.wall = c }
}

// WithCommandIDs sets the command id generator.
// Default: UUIDv7Generator.
func WithCommandIDs(g CommandIDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithPublisher sets where committed events are delivered.
// Default: events are only persisted.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over s. The logical clock resumes from the last seq
// recorded in the store.
func New(ctx context.Context, s *store.Store, opts ...Option) (*Engine, error) {
	var last int64
	err := s.View(ctx, func(tx *store.Tx) error {
		var err error
		last, err = tx.LastSeq(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resume clock: %w", err)
	}

	e := &Engine{
		store:  s,
		clock:  NewClockAt(last),
		wall:   SystemClock{},
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Outcome is the committed result of a command.
type Outcome struct {
	CommandID string            `json:"command_id"`
	Poll      *ledger.Poll      `json:"poll,omitempty"`
	Transfers []ledger.Transfer `json:"transfers"`
	Events    []ledger.Event    `json:"events"`
}

// command is the in-transaction state of one executing command.
type command struct {
	ctx context.Context
	tx  *store.Tx
	id  string
	now time.Time
	cfg platform.Config

	poll      *ledger.Poll
	transfers []ledger.Transfer
	events    []ledger.Event
	order     []record
	logs      []logEntry
}

// logEntry is a success log line held back until the command commits.
type logEntry struct {
	msg  string
	args []any
}

func (c *command) log(msg string, args ...any) {
	c.logs = append(c.logs, logEntry{msg: msg, args: args})
}

// record remembers emission order so seqs interleave transfers and events
// the way they were produced.
type record struct {
	transfer bool
	idx      int
}

func (c *command) emit(typ ledger.EventType, pollID *ledger.PollID, payload any) {
	c.order = append(c.order, record{idx: len(c.events)})
	c.events = append(c.events, ledger.Event{
		CommandID: c.id,
		Type:      typ,
		PollID:    pollID,
		Payload:   payload,
	})
}

func (c *command) release(pollID ledger.PollID, plan reward.Plan) {
	for _, tr := range plan.Transfers {
		tr.CommandID = c.id
		tr.PollID = pollID
		c.order = append(c.order, record{transfer: true, idx: len(c.transfers)})
		c.transfers = append(c.transfers, tr)
	}
}

// execute runs fn inside a store transaction, stamps and persists what it
// produced, commits, and publishes the events.
func (e *Engine) execute(ctx context.Context, name string, fn func(*command) error) (Outcome, error) {
	c := &command{
		ctx: ctx,
		id:  e.ids.Generate(),
		now: e.wall.Now(),
	}

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		c.tx = tx

		cfg, err := tx.Platform(ctx)
		if errors.Is(err, store.ErrNotInitialized) {
			return ledger.Errorf(ledger.ErrCodeInvalidState, "ledger not initialized")
		}
		if err != nil {
			return err
		}
		c.cfg = cfg

		if err := fn(c); err != nil {
			return err
		}
		return e.persist(c)
	})
	if err != nil {
		if ledger.CodeOf(err) != "" {
			e.logger.Debug("command rejected", "command", name, "command_id", c.id, "error", err)
		} else {
			e.logger.Error("command failed", "command", name, "command_id", c.id, "error", err)
		}
		return Outcome{}, err
	}

	for _, l := range c.logs {
		e.logger.Info(l.msg, append(l.args, "command_id", c.id)...)
	}
	if e.publisher != nil && len(c.events) > 0 {
		e.publisher.Publish(ctx, c.events)
	}

	out := Outcome{
		CommandID: c.id,
		Poll:      c.poll,
		Transfers: c.transfers,
		Events:    c.events,
	}
	if out.Transfers == nil {
		out.Transfers = []ledger.Transfer{}
	}
	if out.Events == nil {
		out.Events = []ledger.Event{}
	}
	return out, nil
}

// persist stamps seqs in emission order and writes transfers and events.
func (e *Engine) persist(c *command) error {
	if len(c.order) == 0 {
		return nil
	}

	// Another process sharing the database may have advanced the log.
	last, err := c.tx.LastSeq(c.ctx)
	if err != nil {
		return err
	}
	e.clock.AdvanceTo(last)

	for _, r := range c.order {
		seq := e.clock.Next()
		if r.transfer {
			c.transfers[r.idx].Seq = seq
		} else {
			c.events[r.idx].Seq = seq
		}
	}

	if err := c.tx.AppendTransfers(c.ctx, c.transfers); err != nil {
		return err
	}
	return c.tx.AppendEvents(c.ctx, c.events)
}

// view runs fn in a read transaction.
func (e *Engine) view(ctx context.Context, fn func(*store.Tx) error) error {
	return e.store.View(ctx, fn)
}
