package core

import "errors"

// Error kinds. Operations wrap these with context; callers match with errors.Is.
var (
	ErrWrongPhase          = errors.New("wrong phase")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOrderNotFound       = errors.New("order not found")
	ErrHashMismatch        = errors.New("hash mismatch")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrAlreadyRevealed     = errors.New("bid already revealed")
	ErrUnknownToken        = errors.New("unknown token")
	ErrStaleNonce          = errors.New("stale or replayed nonce")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrWrongPhase, "WrongPhase"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrOrderNotFound, "OrderNotFound"},
	{ErrHashMismatch, "HashMismatch"},
	{ErrInvalidSignature, "InvalidSignature"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrAlreadyRevealed, "AlreadyRevealed"},
	{ErrUnknownToken, "UnknownToken"},
	{ErrStaleNonce, "StaleNonce"},
}

// Kind names the error kind of err, "" for nil and "Internal" for errors
// that carry none of the kinds above.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
