// Package engine owns the client-side pipeline session: the normalized
// item set, its card projections, and the optimistic stage-transition
// protocol against the CRM backend.
//
// The engine has exactly one logical writer, the local UI loop. There is
// no locking around items/cards; concurrent edits by other users are
// only ever observed through a fresh Load, never merged.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"fitline/internal/audit"
	"fitline/internal/board"
	"fitline/internal/crm"
	"fitline/internal/domain"
	"fitline/internal/normalize"
	"fitline/internal/policy"
	"fitline/internal/stage"
)

// Reason strings attached to server-side stage updates.
const (
	moveReason  = "Moved on pipeline board"
	quickReason = "Quick action"
)

// DefaultFetchTimeout bounds the initial board fetch.
const DefaultFetchTimeout = 10 * time.Second

// ErrFetchTimeout marks a board fetch aborted by the client-side
// deadline, distinct from other load failures.
var ErrFetchTimeout = errors.New("pipeline fetch timed out")

// API is the slice of the CRM client the engine depends on.
type API interface {
	Pipeline(ctx context.Context) ([]domain.RawRecord, error)
	UpdateJobStage(ctx context.Context, id string, change crm.StageChange) error
	UpdateCustomerStage(ctx context.Context, id string, change crm.StageChange) error
	UpdateProject(ctx context.Context, id string, update crm.ProjectUpdate) error
	CreateQuote(ctx context.Context, jobID, createdBy string) error
	CreateInvoice(ctx context.Context, inv crm.InvoiceRequest) error
}

// BatchError reports a batch that was reverted after one or more server
// calls failed. The whole batch rolls back, including moves whose own
// calls succeeded; the user gets a single notification.
type BatchError struct {
	Moves  int
	Failed int
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("stage change failed for %d of %d moved card(s); all changes reverted: %v", e.Failed, e.Moves, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Engine is the stage-transition engine for one loaded board session.
type Engine struct {
	Client       API
	User         domain.User
	Audit        *audit.Trail
	Logger       *log.Logger
	FetchTimeout time.Duration
	Now          func() time.Time

	items []domain.PipelineItem
	cards []board.Card
}

// New builds an engine for the given user session.
func New(client API, user domain.User) *Engine {
	return &Engine{
		Client:       client,
		User:         user,
		Audit:        audit.NewTrail(audit.DefaultLimit),
		FetchTimeout: DefaultFetchTimeout,
		Now:          time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// Load fetches the feed and wholesale-replaces the session state. On
// failure the previous state is left intact so the caller can offer a
// manual retry.
func (e *Engine) Load(ctx context.Context) error {
	timeout := e.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := e.Client.Pipeline(fetchCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrFetchTimeout
		}
		return fmt.Errorf("load pipeline: %w", err)
	}
	items := normalize.Items(raw)
	visible := items[:0:0]
	for _, it := range items {
		if policy.CanAccess(it, e.User) {
			visible = append(visible, it)
		}
	}
	e.items = visible
	e.cards = board.Cards(visible, e.now())
	return nil
}

// Restore replaces the session state with previously normalized items,
// bypassing the network. Used when a cached board is still fresh.
func (e *Engine) Restore(items []domain.PipelineItem) {
	copied := make([]domain.PipelineItem, len(items))
	copy(copied, items)
	e.items = copied
	e.cards = board.Cards(copied, e.now())
}

// Items returns a copy of the loaded pipeline items.
func (e *Engine) Items() []domain.PipelineItem {
	out := make([]domain.PipelineItem, len(e.items))
	copy(out, e.items)
	return out
}

// Cards returns a copy of the current card projections.
func (e *Engine) Cards() []board.Card {
	out := make([]board.Card, len(e.cards))
	copy(out, e.cards)
	return out
}

// Board derives the rendered columns for the session user.
func (e *Engine) Board(f board.Filters) []board.Column {
	return board.Project(e.items, policy.Normalize(e.User.Role), f, e.now())
}

func (e *Engine) item(id string) (*domain.PipelineItem, bool) {
	for i := range e.items {
		if e.items[i].ID == id {
			return &e.items[i], true
		}
	}
	return nil, false
}

func (e *Engine) card(id string) (*board.Card, bool) {
	for i := range e.cards {
		if e.cards[i].ID == id {
			return &e.cards[i], true
		}
	}
	return nil, false
}

// diff compares the current cards to the proposed layout. A card counts
// as moved only when its column changed; reordering within a column is
// not a move.
func (e *Engine) diff(next []board.Card) []domain.Move {
	var moves []domain.Move
	for _, n := range next {
		prev, ok := e.card(n.ID)
		if !ok || prev.Column == n.Column {
			continue
		}
		moves = append(moves, domain.Move{ItemID: n.ID, From: prev.Column, To: n.Column})
	}
	return moves
}

// transaction is the snapshot taken before an optimistic batch apply.
// Revert restores both arrays as a unit; apply and revert share this one
// code path so the two can never drift apart.
type transaction struct {
	engine      *Engine
	beforeItems []domain.PipelineItem
	beforeCards []board.Card
}

func (e *Engine) begin() *transaction {
	items := make([]domain.PipelineItem, len(e.items))
	copy(items, e.items)
	cards := make([]board.Card, len(e.cards))
	copy(cards, e.cards)
	return &transaction{engine: e, beforeItems: items, beforeCards: cards}
}

func (tx *transaction) apply(moves []domain.Move) {
	for _, mv := range moves {
		if it, ok := tx.engine.item(mv.ItemID); ok {
			it.Stage = mv.To
			it.StageSince = tx.engine.now()
		}
		if c, ok := tx.engine.card(mv.ItemID); ok {
			c.Column = mv.To
			c.DaysInStage = 0
		}
	}
}

func (tx *transaction) revert() {
	tx.engine.items = tx.beforeItems
	tx.engine.cards = tx.beforeCards
}

// ApplyBoard runs the batch transition protocol for one drag gesture:
// diff, authorization gate, snapshot, optimistic apply, concurrent
// dispatch, then commit or whole-batch revert.
func (e *Engine) ApplyBoard(ctx context.Context, next []board.Card) ([]domain.Move, error) {
	moves := e.diff(next)
	if len(moves) == 0 {
		return nil, nil
	}

	// Every move must clear the gate before any network call; one
	// denial aborts the whole batch with no state change.
	for _, mv := range moves {
		it, ok := e.item(mv.ItemID)
		if !ok {
			return nil, fmt.Errorf("unknown card %s", mv.ItemID)
		}
		if !policy.CanEdit(*it, e.User) {
			return nil, policy.DeniedError{ItemID: it.ID, Actor: e.User.Identity()}
		}
	}

	tx := e.begin()
	tx.apply(moves)

	errs := make([]error, len(moves))
	var wg sync.WaitGroup
	for i, mv := range moves {
		it, _ := e.item(mv.ItemID)
		item := *it
		wg.Add(1)
		go func(i int, item domain.PipelineItem, target stage.Stage) {
			defer wg.Done()
			errs[i] = e.dispatch(ctx, item, target, moveReason)
		}(i, item, mv.To)
	}
	wg.Wait()

	failed := 0
	var first error
	for _, err := range errs {
		if err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if failed > 0 {
		// The batch is one unit of work: even moves whose calls
		// succeeded roll back with it.
		tx.revert()
		return nil, &BatchError{Moves: len(moves), Failed: failed, Err: first}
	}

	for _, mv := range moves {
		it, _ := e.item(mv.ItemID)
		e.record(*it, mv)
		e.fireSideEffects(*it, mv.To)
	}
	return moves, nil
}

// QuickTransition is the single-click, single-item path. It shares the
// authorization gate but takes no snapshot: a failed call is reported,
// not rolled back, and a later refresh restores the truth.
func (e *Engine) QuickTransition(ctx context.Context, id string, target stage.Stage) error {
	it, ok := e.item(id)
	if !ok {
		return fmt.Errorf("unknown item %s", id)
	}
	if !policy.CanEdit(*it, e.User) {
		return policy.DeniedError{ItemID: it.ID, Actor: e.User.Identity()}
	}
	mv := domain.Move{ItemID: id, From: it.Stage, To: target}
	if mv.From == mv.To {
		return nil
	}

	it.Stage = target
	it.StageSince = e.now()
	if c, ok := e.card(id); ok {
		c.Column = target
		c.DaysInStage = 0
	}

	if err := e.dispatch(ctx, *it, target, quickReason); err != nil {
		return fmt.Errorf("quick transition %s: %w", id, err)
	}
	e.record(*it, mv)
	e.fireSideEffects(*it, target)
	return nil
}

// dispatch issues the entity-specific server call for one stage change.
// Routing switches on the kind tag assigned at normalization.
func (e *Engine) dispatch(ctx context.Context, item domain.PipelineItem, target stage.Stage, reason string) error {
	rawID := domain.RawID(item.ID)
	change := crm.StageChange{
		Stage:     target.String(),
		Reason:    reason,
		UpdatedBy: e.User.Identity(),
	}
	switch item.Kind {
	case domain.KindJob:
		return e.Client.UpdateJobStage(ctx, rawID, change)
	case domain.KindCustomer:
		return e.Client.UpdateCustomerStage(ctx, rawID, change)
	case domain.KindProject:
		return e.Client.UpdateProject(ctx, rawID, e.projectUpdate(item, target))
	default:
		return fmt.Errorf("unknown entity kind %q for %s", item.Kind, item.ID)
	}
}

// projectUpdate reconstructs the full project payload from the local
// copy; the server has no partial-update route for projects.
func (e *Engine) projectUpdate(item domain.PipelineItem, target stage.Stage) crm.ProjectUpdate {
	details := item.Project
	if details == nil {
		details = &domain.ProjectDetails{Name: item.CustomerName, JobType: item.JobType}
	}
	return crm.ProjectUpdate{
		Name:          details.Name,
		JobType:       details.JobType,
		ScheduledDate: details.ScheduledDate,
		Notes:         details.Notes,
		Stage:         target.String(),
		UpdatedBy:     e.User.Identity(),
	}
}

func (e *Engine) record(item domain.PipelineItem, mv domain.Move) {
	if e.Audit == nil {
		return
	}
	summary := fmt.Sprintf("%s: %s -> %s", item.Reference, mv.From, mv.To)
	e.Audit.Append(string(item.Kind), item.ID, "stage.changed", e.User.Identity(), summary)
}

// fireSideEffects triggers downstream documents when a job enters
// certain stages. Fire-and-forget: outcomes are logged and never affect
// the transition result.
func (e *Engine) fireSideEffects(item domain.PipelineItem, target stage.Stage) {
	if item.Kind != domain.KindJob {
		return
	}
	rawID := domain.RawID(item.ID)
	actor := e.User.Identity()
	switch target {
	case stage.Quote:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultFetchTimeout)
			defer cancel()
			if err := e.Client.CreateQuote(ctx, rawID, actor); err != nil {
				e.logger().Printf("quote trigger for %s failed: %v", item.ID, err)
			}
		}()
	case stage.Accepted:
		inv := crm.InvoiceRequest{
			EntityID:  rawID,
			Reference: item.Reference,
			Amount:    item.Value,
			CreatedBy: actor,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultFetchTimeout)
			defer cancel()
			if err := e.Client.CreateInvoice(ctx, inv); err != nil {
				e.logger().Printf("invoice trigger for %s failed: %v", item.ID, err)
			}
		}()
	}
}
