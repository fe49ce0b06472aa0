/**
 * @description
 * Error taxonomy shared by every layer of the service. Services wrap these
 * sentinels with context; the HTTP layer matches them with errors.Is and maps
 * them to status codes and machine-readable error codes.
 */
package domain

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrValidation          = errors.New("validation failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrDuplicate           = errors.New("duplicate")
	ErrRateLimited         = errors.New("rate limited")
)
