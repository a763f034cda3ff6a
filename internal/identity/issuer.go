package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Issuer is the anonymous sign-in primitive. The id it returns is opaque
// and stays the same for as long as the issuer keeps its sign-in.
type Issuer interface {
	// SignIn may adopt hint, a previously issued id, when it is still usable.
	SignIn(ctx context.Context, hint string) (string, error)
}

// Anonymous issues uuid participant ids and remembers the first one, the
// way a browser keeps its anonymous account across page loads.
type Anonymous struct {
	mu  sync.Mutex
	uid string
}

var _ Issuer = (*Anonymous)(nil)

func NewAnonymous() *Anonymous { return &Anonymous{} }

func (a *Anonymous) SignIn(ctx context.Context, hint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uid == "" {
		a.uid = Resolve(hint)
	}
	return a.uid, nil
}

// SignOut forgets the current id; the next SignIn starts over.
func (a *Anonymous) SignOut() {
	a.mu.Lock()
	a.uid = ""
	a.mu.Unlock()
}

// Resolve returns hint if it is a well-formed participant id, else a fresh one.
func Resolve(hint string) string {
	if _, err := uuid.Parse(hint); err == nil && hint != "" {
		return hint
	}
	return uuid.NewString()
}
