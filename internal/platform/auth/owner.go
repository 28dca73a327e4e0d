package auth

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

// DefaultGuestHeader carries the opaque guest session token for anonymous shoppers.
const DefaultGuestHeader = "X-Guest-Session"

// OwnerResolver derives the cart/order owner from the authenticated identity or the guest header.
type OwnerResolver struct {
	header   string
	newToken func() string
}

// OwnerOption customises OwnerResolver behaviour.
type OwnerOption func(*OwnerResolver)

// WithGuestTokenGenerator overrides how fresh guest tokens are minted.
func WithGuestTokenGenerator(fn func() string) OwnerOption {
	return func(o *OwnerResolver) {
		if fn != nil {
			o.newToken = fn
		}
	}
}

// NewOwnerResolver constructs an OwnerResolver reading guest tokens from header.
func NewOwnerResolver(header string, opts ...OwnerOption) *OwnerResolver {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultGuestHeader
	}
	resolver := &OwnerResolver{
		header:   header,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(resolver)
		}
	}
	return resolver
}

// Header returns the guest session header name.
func (o *OwnerResolver) Header() string {
	return o.header
}

// RequireOwner stores the resolved owner in the request context. Signed-in identities win over
// guest tokens. When issue is true an anonymous request receives a new guest token, echoed in
// the response header; otherwise it is rejected.
func (o *OwnerResolver) RequireOwner(issue bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var owner domain.Owner
			if identity, ok := IdentityFromContext(r.Context()); ok {
				owner.UserID = identity.UID
			} else if raw := strings.TrimSpace(r.Header.Get(o.header)); raw != "" {
				token, err := uuid.Parse(raw)
				if err != nil {
					respondAuthError(w, http.StatusBadRequest, "invalid_guest_session", "guest session token is malformed")
					return
				}
				owner.GuestToken = token.String()
			} else if issue {
				owner.GuestToken = o.newToken()
				w.Header().Set(o.header, owner.GuestToken)
			} else {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "sign in or supply a guest session")
				return
			}

			ctx := requestctx.WithOwner(r.Context(), owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
