package ledger

import "errors"

var (
	ErrInsufficientPayment      = errors.New("payment below ticket price")
	ErrDuplicateTicket          = errors.New("ticket already exists for this buyer and number")
	ErrTicketNotFound           = errors.New("ticket not found")
	ErrIssuerNotFound           = errors.New("issuer not found")
	ErrUnauthorizedSigner       = errors.New("signature was not produced by the issuer key")
	ErrInvalidSignatureEncoding = errors.New("malformed or non-canonical signature")
	ErrTimeoutNotReached        = errors.New("ticket timeout window has not elapsed")
	ErrAlreadyResolved          = errors.New("ticket already resolved")
	ErrAlreadyRefunded          = errors.New("ticket already refunded")

	ErrInsufficientIssuerBalance = errors.New("issuer balance cannot cover the transfer")
	ErrInsufficientDeposit       = errors.New("deposit below registry minimum")
	ErrNotController             = errors.New("caller is not the issuer controller")

	errEscrowNotHeld = errors.New("no escrow held for ticket")
)
