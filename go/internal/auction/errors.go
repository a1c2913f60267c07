package auction

import "errors"

// Precondition failures surfaced to API callers. Race-class errors (the state
// moved between the caller's view and the lock) map to 409; caller mistakes
// map to 400.
var (
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrAuctionNotLive    = errors.New("auction is not accepting bids")
	ErrAuctionEnded      = errors.New("auction has ended")
	ErrAuctionSold       = errors.New("item has already been sold")
	ErrSelfBid           = errors.New("you cannot bid on your own auction")
	ErrBidTooLow         = errors.New("bid must be greater than the current price")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrEmptyChatMessage  = errors.New("chat message body is empty")
)
