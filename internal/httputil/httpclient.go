package httputil

import (
	"net/http"
	"time"
)

// CopyHTTPClientWithTimeout clones base (or constructs a fresh client when
// base is nil) and applies timeout. When force is false, an already-set
// non-zero timeout on base is preserved; this lets the inference proxy
// default to spec §5's suggested budgets without overriding a caller that
// configured its own.
func CopyHTTPClientWithTimeout(base *http.Client, timeout time.Duration, force bool) *http.Client {
	var clone http.Client
	if base != nil {
		clone = *base
	}

	if force || clone.Timeout == 0 {
		clone.Timeout = timeout
	}
	if clone.Transport == nil {
		clone.Transport = DefaultTransportWithMinTLS12()
	}
	return &clone
}
