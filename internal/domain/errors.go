package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidState  = errors.New("invalid state for requested transition")
	ErrNotAMember    = errors.New("not a member of this auction")
	ErrBidTooLow     = errors.New("bid amount too low")
	ErrAlreadyEnded  = errors.New("auction already ended")
	ErrForbidden     = errors.New("forbidden")
	ErrLockHeld      = errors.New("lock already held")
	ErrRateLimited   = errors.New("rate limited")
)

// BidRejectedError reports why a bid was refused together with the committed
// current price, so the caller can retry with a higher amount. The wrapped
// sentinel is ErrBidTooLow.
type BidRejectedError struct {
	AuctionID    int64
	CurrentPrice int64
}

func (e *BidRejectedError) Error() string {
	return fmt.Sprintf("bid too low for auction %d: current price is %d", e.AuctionID, e.CurrentPrice)
}

func (e *BidRejectedError) Unwrap() error { return ErrBidTooLow }

// StateError reports an ErrInvalidState rejection together with the status
// the auction was actually in.
type StateError struct {
	AuctionID int64
	Status    AuctionStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("auction %d is %s", e.AuctionID, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }
