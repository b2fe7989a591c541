package service

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
	ErrProviderUnsupported  = errors.New("provider is not supported")
	ErrGatewayCommunication = errors.New("gateway communication error")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrCallbackRejected     = errors.New("callback rejected")
)
