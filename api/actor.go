package api

import (
	"context"
	"net/http"
	"strings"
)

// ActorHeader carries the caller's id, set by the upstream auth proxy.
// Roles are enforced there; this layer only needs to know who acted.
const ActorHeader = "X-Actor-ID"

type actorKey struct{}

// RequireActor rejects requests without an actor id.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(ActorHeader))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+ActorHeader+" header", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, id)))
	})
}

func actorFrom(r *http.Request) string {
	id, _ := r.Context().Value(actorKey{}).(string)
	return id
}
