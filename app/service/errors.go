package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidAmount       = fmt.Errorf("%w: amount is below the minimum link amount", ErrInvalidRequest)
	ErrClientNotFound      = errors.New("client not found")
	ErrPaymentLinkNotFound = errors.New("payment link not found")
	ErrGateway             = errors.New("payment gateway error")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrDuplicatePayment    = errors.New("payment already recorded")
	ErrBatchInProgress     = errors.New("batch already in progress")
	ErrUnknownOperation    = errors.New("unknown batch operation")
)

func invalidRequest(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, reason)
}
