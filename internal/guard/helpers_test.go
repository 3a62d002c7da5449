package guard

import (
	"context"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
)

// loadStale loads r through a real session manager whose store does not know the cookie.
func loadStale(t *testing.T, r *http.Request) *shared.Session {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sm := shared.NewSessionManager(client, "odyssey_session", 0, false)
	sess, err := sm.Load(context.Background(), r)
	require.NoError(t, err)
	require.NotEmpty(t, sess.StaleID())
	return sess
}
