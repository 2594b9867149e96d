package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid executor context")

	// License lifecycle errors. Except ErrInternal these are definitive:
	// a client must not blindly retry them.
	ErrLicenseNotFound           = errors.New("invalid license")
	ErrAlreadyActivatedElsewhere = errors.New("license already activated on another device")
	ErrHardwareMismatch          = errors.New("hardware id mismatch")
	ErrLicenseSuspended          = errors.New("license is suspended")
	ErrLicenseRevoked            = errors.New("license has been revoked")
	ErrLicenseExpired            = errors.New("license has expired")
	ErrNotYetActivated           = errors.New("license not yet activated")
	ErrRateLimited               = errors.New("too many attempts")
	ErrInternal                  = errors.New("internal failure")
)
