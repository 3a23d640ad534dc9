package model

import "errors"

// Виды ошибок ядра. Конкретные ошибки разворачиваются в один из них через errors.Is.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotActive         = errors.New("not active")
	ErrPolicyViolation   = errors.New("policy violation")
)

// Error — конкретная ошибка ядра, относящаяся к одному из видов.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// Unwrap возвращает вид ошибки.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Счета и переводы.
var (
	ErrAccountNotFound   = newError(ErrNotFound, "account not found")
	ErrAccountExists     = newError(ErrConflict, "account already exists")
	ErrUnknownRecipient  = newError(ErrNotFound, "unknown recipient")
	ErrSelfTransfer      = newError(ErrPolicyViolation, "cannot transfer to self")
	ErrBlockedAccount    = newError(ErrPolicyViolation, "account is blocked")
	ErrInvalidCredential = newError(ErrUnauthorized, "invalid credentials")
	ErrAdminRequired     = newError(ErrUnauthorized, "administrator rights required")
	ErrTxNotFound        = newError(ErrNotFound, "transfer not found")
	ErrAlreadyReversed   = newError(ErrConflict, "transfer already revoked")
	ErrInvalidAdjustment = newError(ErrInvalidAmount, "adjustment requires a non-zero amount and a comment")
	ErrDeleteAdmin       = newError(ErrPolicyViolation, "administrator accounts cannot be deleted")
	ErrAccountHasBids    = newError(ErrConflict, "account has bids in an active auction")
)

// Аукционы.
var (
	ErrAlreadyActive    = newError(ErrConflict, "auction already active")
	ErrMissingEndTime   = newError(ErrPolicyViolation, "auction end time must be in the future")
	ErrAuctionNotActive = newError(ErrNotActive, "auction is not active")
	ErrBidTooLow        = newError(ErrPolicyViolation, "bid must exceed the current highest bid")
	ErrLotNotFound      = newError(ErrNotFound, "special lot not found")
	ErrInvalidLot       = newError(ErrInvalidAmount, "special lot requires name, description and non-negative start price")
)

// Кредиты.
var (
	ErrExceedsMax            = newError(ErrPolicyViolation, "loan exceeds maximum amount")
	ErrRequestAlreadyPending = newError(ErrConflict, "loan request already pending")
	ErrNoPendingRequest      = newError(ErrNotFound, "no pending loan request")
	ErrNoActiveLoan          = newError(ErrNotFound, "no active loan")
	ErrInvalidPolicy         = newError(ErrInvalidAmount, "invalid loan policy")
)

// Экономические события, страхование, вклады и биржа.
var (
	ErrUnknownEventKind        = newError(ErrNotFound, "unknown economic event kind")
	ErrEventNotFound           = newError(ErrNotFound, "economic event not found")
	ErrInvalidSchedule         = newError(ErrPolicyViolation, "event end must be after start")
	ErrInsuranceOptionNotFound = newError(ErrNotFound, "insurance option not found")
	ErrDepositActive           = newError(ErrConflict, "deposit already active")
	ErrAssetNotFound           = newError(ErrNotFound, "asset not found")
	ErrInvalidAsset            = newError(ErrInvalidAmount, "asset requires ticker, name, type and positive price")
	ErrInsufficientHoldings    = newError(ErrInsufficientFunds, "insufficient asset holdings")
)
