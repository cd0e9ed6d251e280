package schema

import (
	"errors"
	"fmt"
)

var (
	ErrNotSupported      = errors.New("not supported")
	ErrUnauthenticated   = errors.New("no authenticated user")
	ErrEmptyResponse     = errors.New("vendor returned no content")
	ErrNotFound          = errors.New("not found")
	ErrNoVendorConfig    = errors.New("no configuration for vendor")
	ErrUnsupportedVendor = errors.New("unsupported vendor")
	ErrMissingVendor     = errors.New("model has no vendor")
	ErrInvalidAmount     = errors.New("invalid usage amount")
	ErrInvalidChat       = errors.New("invalid chat")
)

// NotSupportedError reports an operation the vendor cannot perform.
func NotSupportedError(vendor, op string) error {
	return fmt.Errorf("%s is %w by %s", op, ErrNotSupported, vendor)
}
