package tools

import (
	"context"
	"errors"
	"time"

	"github.com/basket/taskchat/internal/store"
)

// GetCurrentUser reports the caller's profile. When no profile row matches
// the owner id, it echoes the id as both user_id and email with a null
// creation time instead of failing. That fallback exists because some token
// issuers use the email itself as the subject, so the opaque id doubles as
// the profile key; it is a compatibility shim, not identity resolution.
func GetCurrentUser(st *store.Store) Handler {
	return func(ctx context.Context, ownerID string, _ map[string]any) Result {
		user, err := st.GetUser(ctx, ownerID)
		if errors.Is(err, store.ErrNotFound) {
			return Success(map[string]any{
				"user_id":    ownerID,
				"email":      ownerID,
				"created_at": nil,
			})
		}
		if err != nil {
			return Failure(ErrDatabase, err.Error())
		}
		return Success(map[string]any{
			"user_id":    user.Email,
			"email":      user.Email,
			"created_at": user.CreatedAt.Format(time.RFC3339),
		})
	}
}
