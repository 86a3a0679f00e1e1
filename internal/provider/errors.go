package provider

import "errors"

// Error kinds surfaced by the acquisition layer. Callers classify with
// errors.Is; concrete failures wrap one of these with detail.
var (
    // ErrNotConfigured: no base URL is set, the layer refuses all calls.
    ErrNotConfigured = errors.New("provider not configured")
    // ErrRateLimited: the upstream rejected the call for throttling.
    // Surfaced as-is so callers can retry later; never retried here.
    ErrRateLimited = errors.New("rate limited")
    // ErrNotFound: the provider does not recognize the symbol.
    ErrNotFound = errors.New("symbol not found")
    // ErrUnavailable: transport failure, timeout, non-2xx or malformed body.
    ErrUnavailable = errors.New("provider unavailable")
)

// IsRetryable reports whether the caller may usefully retry later.
func IsRetryable(err error) bool { return errors.Is(err, ErrRateLimited) }
