package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian/internal/shared"
)

func newCachedService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(nil, client)
}

func TestAuthenticateRejectsMalformedTokens(t *testing.T) {
	svc := newCachedService(t)
	ctx := context.Background()

	for _, raw := range []string{
		"",
		"mer",
		"mer_1",
		"mer_1_",
		"other_1_secret",
		"mer_abc_secret",
	} {
		_, err := svc.Authenticate(ctx, raw)
		require.ErrorIs(t, err, ErrTokenMalformed, "token %q", raw)
	}
}

func TestAuthenticateServesCachedVerdict(t *testing.T) {
	svc := newCachedService(t)
	ctx := context.Background()

	// a prior successful verification left a cached verdict; the next
	// lookup must not need the database at all.
	svc.storeActor(ctx, "mer_1_secret", shared.Actor{ID: 9, Name: "ops"})

	actor, err := svc.Authenticate(ctx, "mer_1_secret")
	require.NoError(t, err)
	require.EqualValues(t, 9, actor.ID)
	require.Equal(t, "ops", actor.Name)
}

func TestCacheKeyHidesTokenMaterial(t *testing.T) {
	key := cacheKey("mer_1_secret")
	require.NotContains(t, key, "secret")
	require.Equal(t, cacheKey("mer_1_secret"), key)
	require.NotEqual(t, cacheKey("mer_1_other"), key)
}

func TestMiddlewarePassesThroughWithoutHeader(t *testing.T) {
	svc := newCachedService(t)
	var sawActor *shared.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawActor = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	Middleware(svc)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, sawActor)
}

func TestMiddlewareRejectsNonBearerAndBadTokens(t *testing.T) {
	svc := newCachedService(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})
	handler := Middleware(svc)(next)

	for _, header := range []string{"Basic dXNlcg==", "Bearer not-a-token"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestMiddlewareAttachesActor(t *testing.T) {
	svc := newCachedService(t)
	ctx := context.Background()
	svc.storeActor(ctx, "mer_1_secret", shared.Actor{ID: 9, Name: "ops"})

	var sawActor *shared.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawActor = shared.ActorFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer mer_1_secret")
	Middleware(svc)(next).ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, sawActor)
	require.EqualValues(t, 9, sawActor.ID)
}
