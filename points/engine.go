/*
engine.go - Points Operation Engine

PURPOSE:
  The single authorized path for changing Client.Points. Every entry
  operation funnels into one atomic unit of work:

    1. read client (and item) inside the transaction
    2. authorize the actor on the client's business
    3. read the business overdraft policy
    4. after = before + delta; reject if after < 0 without overdraft
    5. write Client.Points = after
    6. append the ledger entry {before, delta, after}
    7. commit (any failure above rolls everything back)

OPERATIONS:
  ApplyItem:   delta from an earn (+points) or redeem (-points) item
  ApplyManual: caller-supplied non-zero delta, no item reference
  Reverse:     counter-entry for an existing entry (corrections)

CONCURRENCY:
  TxStore.WithTx serializes transactions, so two operations on the same
  client never interleave between the read in step 1 and the commit.
  N concurrent deltas d1..dn end at initial + sum(d) with a gapless
  before/after chain.

RETRIES:
  None. A failed operation has no side effects and the caller decides
  whether to resubmit. Resubmitting a successful operation applies it
  again.

SEE ALSO:
  - ledger.go: entry precondition checks
  - scope.go: Authorize
*/
package points

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/warp/loyalty-engine/metrics"
	"go.uber.org/zap"
)

// =============================================================================
// OPERATIONS
// =============================================================================

// ItemOperation applies a catalog item to a client.
type ItemOperation struct {
	ClientID ClientID
	ItemID   ItemID
	Actor    Caller
	Note     string
}

// ManualOperation adjusts a client's balance by an explicit delta.
type ManualOperation struct {
	ClientID ClientID
	Delta    int64
	Actor    Caller
	Note     string
}

// ReverseOperation appends a counter-entry cancelling an existing entry.
type ReverseOperation struct {
	EntryID EntryID
	Actor   Caller
	Note    string
}

// Result is the outcome of an applied operation.
type Result struct {
	BeforePoints int64
	AfterPoints  int64
	Entry        Entry
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store TxStore
	Log   *zap.Logger
	Now   func() time.Time
}

func NewEngine(store TxStore, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		Store: store,
		Log:   log.Named("points.engine"),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// ApplyItem applies an earn or redeem item to a client.
func (e *Engine) ApplyItem(ctx context.Context, op ItemOperation) (Result, error) {
	if op.ClientID == "" || op.ItemID == "" {
		return Result{}, validationf("client id and item id are required")
	}

	var result Result
	err := e.Store.WithTx(ctx, func(tx Store) error {
		client, err := loadClient(ctx, tx, op.ClientID)
		if err != nil {
			return err
		}

		item, err := tx.GetItem(ctx, op.ItemID)
		if err != nil {
			return fmt.Errorf("load item: %w", err)
		}
		if item == nil {
			return notFound("item", string(op.ItemID))
		}
		if item.BusinessID != client.BusinessID {
			return &CrossTenantError{
				ItemID:           item.ID,
				ItemBusinessID:   item.BusinessID,
				ClientID:         client.ID,
				ClientBusinessID: client.BusinessID,
			}
		}
		if item.Points < 1 {
			return validationf("item %s has no point value", item.ID)
		}

		note := strings.TrimSpace(op.Note)
		if note == "" {
			note = ItemNote(*item)
		}
		itemID := item.ID
		result, err = e.apply(ctx, tx, client, op.Actor, item.Delta(), &itemID, note)
		return err
	})

	e.observe("item", op.ClientID, result, err)
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// ApplyManual adjusts a client's balance by op.Delta.
func (e *Engine) ApplyManual(ctx context.Context, op ManualOperation) (Result, error) {
	if op.ClientID == "" {
		return Result{}, validationf("client id is required")
	}
	if op.Delta == 0 {
		return Result{}, validationf("delta must be a non-zero integer")
	}

	var result Result
	err := e.Store.WithTx(ctx, func(tx Store) error {
		client, err := loadClient(ctx, tx, op.ClientID)
		if err != nil {
			return err
		}
		note := strings.TrimSpace(op.Note)
		if note == "" {
			note = ManualNote(op.Delta)
		}
		result, err = e.apply(ctx, tx, client, op.Actor, op.Delta, nil, note)
		return err
	})

	e.observe("manual", op.ClientID, result, err)
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// Reverse appends a counter-entry for op.EntryID. The original entry is
// left untouched. Reversing the same entry twice applies two corrections.
func (e *Engine) Reverse(ctx context.Context, op ReverseOperation) (Result, error) {
	if op.EntryID == "" {
		return Result{}, validationf("entry id is required")
	}

	var result Result
	var clientID ClientID
	err := e.Store.WithTx(ctx, func(tx Store) error {
		original, err := tx.GetEntry(ctx, op.EntryID)
		if err != nil {
			return fmt.Errorf("load entry: %w", err)
		}
		if original == nil {
			return notFound("entry", string(op.EntryID))
		}
		clientID = original.ClientID

		client, err := loadClient(ctx, tx, original.ClientID)
		if err != nil {
			return err
		}
		note := strings.TrimSpace(op.Note)
		if note == "" {
			note = fmt.Sprintf("Reversal of %s", original.ID)
		}
		result, err = e.apply(ctx, tx, client, op.Actor, -original.Points, original.ItemID, note)
		return err
	})

	e.observe("reversal", clientID, result, err)
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// apply runs steps 2-6 on an already loaded client. Must be called inside WithTx.
func (e *Engine) apply(ctx context.Context, tx Store, client *Client, actor Caller, delta int64, itemID *ItemID, note string) (Result, error) {
	if err := Authorize(actor, client.BusinessID); err != nil {
		return Result{}, err
	}

	business, err := tx.GetBusiness(ctx, client.BusinessID)
	if err != nil {
		return Result{}, fmt.Errorf("load business: %w", err)
	}
	if business == nil {
		return Result{}, fmt.Errorf("%w: business %s of client %s", ErrPolicyViolation, client.BusinessID, client.ID)
	}

	before := client.Points
	if (delta > 0 && before > math.MaxInt64-delta) || (delta < 0 && before < math.MinInt64-delta) {
		return Result{}, validationf("balance overflow")
	}
	after := before + delta

	if after < 0 && !business.AllowNegativePoints {
		return Result{}, &InsufficientBalanceError{
			ClientID:  client.ID,
			Available: before,
			Requested: -delta,
			Shortfall: -after,
		}
	}

	if err := tx.SetClientPoints(ctx, client.ID, after); err != nil {
		return Result{}, fmt.Errorf("update balance: %w", err)
	}

	entry := Entry{
		ID:           EntryID(NewID()),
		ClientID:     client.ID,
		BusinessID:   client.BusinessID,
		ItemID:       itemID,
		Points:       delta,
		BeforePoints: before,
		AfterPoints:  after,
		ActorID:      actor.UserID,
		Note:         note,
		CreatedAt:    e.Now(),
	}
	if err := NewLedger(tx).Append(ctx, entry); err != nil {
		return Result{}, fmt.Errorf("append entry: %w", err)
	}

	return Result{BeforePoints: before, AfterPoints: after, Entry: entry}, nil
}

func loadClient(ctx context.Context, tx Store, id ClientID) (*Client, error) {
	client, err := tx.GetClient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	if client == nil {
		return nil, notFound("client", string(id))
	}
	return client, nil
}

func (e *Engine) observe(kind string, clientID ClientID, result Result, err error) {
	outcome := Outcome(err)
	metrics.PointsOperations.WithLabelValues(kind, outcome).Inc()

	if err != nil {
		log := e.Log.Debug
		if !IsClientError(err) {
			log = e.Log.Error
		} else if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrCrossTenant) {
			log = e.Log.Info
		}
		log("points operation rejected",
			zap.String("kind", kind),
			zap.String("client_id", string(clientID)),
			zap.String("outcome", outcome),
			zap.Error(err))
		return
	}

	delta := result.Entry.Points
	if delta > 0 {
		metrics.PointsMoved.WithLabelValues("credit").Add(float64(delta))
	} else {
		metrics.PointsMoved.WithLabelValues("debit").Add(float64(-delta))
	}
	e.Log.Debug("points operation applied",
		zap.String("kind", kind),
		zap.String("client_id", string(clientID)),
		zap.String("entry_id", string(result.Entry.ID)),
		zap.Int64("before", result.BeforePoints),
		zap.Int64("after", result.AfterPoints))
}

// =============================================================================
// HELPERS
// =============================================================================

// ItemNote is the default note for an item-driven entry.
func ItemNote(item Item) string {
	if item.Kind == ItemRedeem {
		return "Redeemed: " + item.Name
	}
	return "Earned: " + item.Name
}

// ManualNote is the default note for a manual adjustment.
func ManualNote(delta int64) string {
	return fmt.Sprintf("Manual adjustment: %+d points", delta)
}

// Outcome classifies an operation error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrCrossTenant):
		return "cross_tenant"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrPolicyViolation):
		return "policy_violation"
	default:
		return "error"
	}
}
