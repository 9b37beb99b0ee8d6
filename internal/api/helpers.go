package api

import (
	"net/http"

	"github.com/vault-ai/control-plane/internal/auth"
)

// principalFromRequestSafe is PrincipalFromRequest without forcing every
// call site to import internal/auth directly.
func principalFromRequestSafe(r *http.Request) (auth.Principal, bool) {
	return auth.PrincipalFromRequest(r)
}
