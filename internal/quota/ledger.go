package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openloom/llmgate/internal/metrics"
	gerrors "github.com/openloom/llmgate/pkg/errors"
	"github.com/openloom/llmgate/pkg/types"
)

// Reservation is a provisional hold on a principal's token balance taken
// before an upstream call. It must be resolved exactly once, by Consume or
// Release, before the request handler returns.
type Reservation struct {
	ID          string
	PrincipalID string
	Amount      int64
	CreatedAt   time.Time

	principal *types.Principal
	resolved  bool
}

// account carries the authoritative balance for one principal. The held
// amount tracks in-flight reservations separately from the remaining
// balance; held+consumed can never exceed the balance observed at reserve
// time.
type account struct {
	mu        sync.Mutex
	remaining int64
	used      int64
	held      int64
}

func (a *account) available() int64 {
	return a.remaining - a.held
}

// Ledger is the authoritative source for token balances. Contention is
// scoped per principal; unrelated principals never block each other.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*account
	store    Store
	logger   *slog.Logger
}

// NewLedger creates a ledger writing through the given store.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		accounts: make(map[string]*account),
		store:    store,
		logger:   logger,
	}
}

// Reserve atomically holds maxTokens of the principal's balance for an
// in-flight request. It fails with a quota error when the worst-case cost
// exceeds what is left after existing holds, without mutating any state.
func (l *Ledger) Reserve(_ context.Context, principal *types.Principal, maxTokens int64) (*Reservation, error) {
	if maxTokens <= 0 {
		return nil, gerrors.NewConfigError("reservation amount must be positive")
	}

	acct := l.getAccount(principal)

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.available() < maxTokens {
		metrics.QuotaRejections.WithLabelValues(string(principal.Tier)).Inc()
		return nil, gerrors.NewQuotaExceededError("", acct.available())
	}

	acct.held += maxTokens

	return &Reservation{
		ID:          uuid.NewString(),
		PrincipalID: principal.ID,
		Amount:      maxTokens,
		CreatedAt:   time.Now(),
		principal:   principal,
	}, nil
}

// UsageDetail carries the provider context recorded with a resolution.
type UsageDetail struct {
	Provider         string
	Model            string
	RemoteModel      string
	PromptTokens     int
	CompletionTokens int
}

// Consume finalizes a reservation with the actual token usage. The excess
// hold returns to availability, the balance decreases by the actual amount,
// and a usage record is appended durably before returning. Consuming a
// reservation twice is a programming error and is rejected without touching
// the balance again.
func (l *Ledger) Consume(ctx context.Context, res *Reservation, actual int64, detail UsageDetail) error {
	if res == nil {
		return gerrors.NewInternalError("", "", "nil reservation")
	}

	acct := l.lookupAccount(res.PrincipalID)
	if acct == nil {
		return gerrors.NewInternalError("", detail.Model, "no account for reservation")
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if res.resolved {
		return gerrors.NewReservationResolvedError(res.PrincipalID)
	}
	res.resolved = true

	// Actual usage is capped by the reservation; the estimate is a ceiling.
	if actual > res.Amount {
		l.logger.Warn("actual usage exceeded reservation, clamping",
			"principal", res.PrincipalID, "reserved", res.Amount, "actual", actual)
		actual = res.Amount
	}
	if actual < 0 {
		actual = 0
	}

	acct.held -= res.Amount
	acct.remaining -= actual
	acct.used += actual

	l.syncPrincipal(res, acct)

	record := &types.UsageRecord{
		ID:               uuid.NewString(),
		PrincipalID:      res.PrincipalID,
		Provider:         detail.Provider,
		Model:            detail.Model,
		RemoteModel:      detail.RemoteModel,
		PromptTokens:     detail.PromptTokens,
		CompletionTokens: detail.CompletionTokens,
		TokensUsed:       actual,
		RequestKind:      types.RequestKindCompletion,
		CreatedAt:        time.Now(),
	}
	// Settlement writes must land even when the caller has gone away; the
	// balance above is already decremented, so dropping the record here
	// would bill usage with no audit entry.
	ctx = context.WithoutCancel(ctx)
	if err := l.store.AppendUsage(ctx, record); err != nil {
		return err
	}
	if err := l.store.SaveBalance(ctx, res.PrincipalID, acct.remaining, acct.used); err != nil {
		return err
	}

	metrics.TokensBilled.WithLabelValues(detail.Model, detail.Provider).Add(float64(actual))
	return nil
}

// Release returns the entire held amount to availability with zero usage.
// Used on every failure path: provider error, timeout, cancellation. A
// zero-usage record tagged "failed" keeps the audit trail reconcilable.
func (l *Ledger) Release(ctx context.Context, res *Reservation, detail UsageDetail) error {
	if res == nil {
		return gerrors.NewInternalError("", "", "nil reservation")
	}

	acct := l.lookupAccount(res.PrincipalID)
	if acct == nil {
		return gerrors.NewInternalError("", detail.Model, "no account for reservation")
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if res.resolved {
		return gerrors.NewReservationResolvedError(res.PrincipalID)
	}
	res.resolved = true

	acct.held -= res.Amount
	l.syncPrincipal(res, acct)

	record := &types.UsageRecord{
		ID:          uuid.NewString(),
		PrincipalID: res.PrincipalID,
		Provider:    detail.Provider,
		Model:       detail.Model,
		RemoteModel: detail.RemoteModel,
		TokensUsed:  0,
		RequestKind: types.RequestKindFailed,
		CreatedAt:   time.Now(),
	}
	// A client disconnect routes through Release with an already-cancelled
	// context; the failed record must still reach the store.
	return l.store.AppendUsage(context.WithoutCancel(ctx), record)
}

// Balance returns the principal's current (remaining, used) pair, or
// (0, 0, false) if the ledger has never seen the principal.
func (l *Ledger) Balance(principalID string) (remaining, used int64, ok bool) {
	acct := l.lookupAccount(principalID)
	if acct == nil {
		return 0, 0, false
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.remaining, acct.used, true
}

// getAccount returns the account for the principal, seeding it from the
// supplied handle on first sight. After seeding, the ledger is authoritative
// and later handle values are ignored.
func (l *Ledger) getAccount(principal *types.Principal) *account {
	l.mu.RLock()
	acct, ok := l.accounts[principal.ID]
	l.mu.RUnlock()
	if ok {
		return acct
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok = l.accounts[principal.ID]; ok {
		return acct
	}

	acct = &account{
		remaining: principal.TokensRemaining,
		used:      principal.TokensUsed,
	}
	l.accounts[principal.ID] = acct
	return acct
}

func (l *Ledger) lookupAccount(principalID string) *account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accounts[principalID]
}

// syncPrincipal writes the account state back to the handle supplied at
// reserve time so the outer storage layer persists what the ledger decided.
// Caller holds the account lock.
func (l *Ledger) syncPrincipal(res *Reservation, acct *account) {
	if res.principal == nil {
		return
	}
	res.principal.TokensRemaining = acct.remaining
	res.principal.TokensUsed = acct.used
}
