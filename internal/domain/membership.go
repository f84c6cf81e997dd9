package domain

import "time"

// Membership is one participant's paid entry into one auction. Unique per
// (user, auction); the seller can never hold one, enforced when the deposit
// is confirmed, not re-checked on every bid.
type Membership struct {
	UserID       int64
	AuctionID    int64
	LastBidPrice *int64
	JoinedAt     time.Time
	UpdatedAt    time.Time
}

// DepositStatus tracks what happened to a participant's entry deposit.
type DepositStatus string

const (
	DepositStatusPaid     DepositStatus = "paid"
	DepositStatusRefunded DepositStatus = "refunded"
	DepositStatusApplied  DepositStatus = "applied" // counted toward the winner's purchase
)

// DepositOrder is the payment order backing a Membership.
type DepositOrder struct {
	ID        int64
	UserID    int64
	AuctionID int64
	Amount    int64
	Status    DepositStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LedgerKind labels a compensating ledger entry written during settlement.
type LedgerKind string

const (
	LedgerKindDepositRefund  LedgerKind = "deposit_refund"
	LedgerKindDepositApplied LedgerKind = "deposit_applied"
)

// LedgerEntry is the append-only record of a settlement money movement.
type LedgerEntry struct {
	ID        int64
	UserID    int64
	AuctionID int64
	Amount    int64
	Kind      LedgerKind
	CreatedAt time.Time
}

// Notification is a queued message for one user, delivered best-effort by
// the notify package after settlement commits.
type Notification struct {
	UserID    int64
	Kind      string
	Message   string
	ListingID int64
}

// Notification kinds emitted by the settlement engine.
const (
	NotificationKindWon        = "auction_won"
	NotificationKindLostRefund = "auction_lost_refund"
)
