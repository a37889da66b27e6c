package httpclient

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBreakerConfig(t *testing.T) {
	cfg := DefaultBreakerConfig()
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.Equal(t, uint32(5), cfg.ConsecutiveFailures)
	assert.Nil(t, cfg.Store)
	assert.NotNil(t, cfg.Classifier)
}

func TestDefaultBreakerClassifier(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		err  error
		want bool
	}{
		{name: "given 500, then failure", resp: &http.Response{StatusCode: 500}, want: true},
		{name: "given 429, then not failure", resp: &http.Response{StatusCode: 429}, want: false},
		{name: "given 404, then not failure", resp: &http.Response{StatusCode: 404}, want: false},
		{name: "given net error, then failure", err: timeoutError{}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultBreakerClassifier(tt.resp, tt.err))
		})
	}
}

func TestBreakerTransport_PerHost(t *testing.T) {
	t.Run("given one host keeps failing, then only that host's breaker opens", func(t *testing.T) {
		mock := NewMockTransport().
			StubFunc(func(r *http.Request) bool { return r.URL.Host == "down.example" }, http.StatusBadGateway, nil, "").
			StubResponse(http.StatusOK, "ok")

		var (
			mu          sync.Mutex
			transitions []string
		)
		bc := DefaultBreakerConfig()
		bc.ConsecutiveFailures = 2
		bc.OnStateChange = func(name string, _, to gobreaker.State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, name+"="+to.String())
		}

		client := New(WithMockTransport(mock), WithBreaker(bc), WithServiceName("dispatch"))
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			resp, err := client.Fetch(ctx, newTestRequest(t, http.MethodGet, "https://down.example/inbox", ""), 0)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		}

		_, err := client.Fetch(ctx, newTestRequest(t, http.MethodGet, "https://down.example/inbox", ""), 0)
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, 2, mock.RequestCount(), "open breaker must not reach the network")

		resp, err := client.Fetch(ctx, newTestRequest(t, http.MethodGet, "https://up.example/inbox", ""), 0)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"dispatch:down.example=open"}, transitions)
	})
}

func TestBreakerTransport_Distributed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	bc := DistributedBreakerConfig(NewRedisStore(rdb))
	bc.ConsecutiveFailures = 1
	assert.NotNil(t, bc.Store)

	failing := NewMockTransport().StubResponse(http.StatusInternalServerError, "")
	replicaA := New(WithMockTransport(failing), WithBreaker(bc), WithServiceName("dispatch"))

	healthy := NewMockTransport().StubResponse(http.StatusOK, "")
	replicaB := New(WithMockTransport(healthy), WithBreaker(bc), WithServiceName("dispatch"))

	ctx := context.Background()
	_, err = replicaA.Fetch(ctx, newTestRequest(t, http.MethodGet, "https://shared.example/", ""), 0)
	require.NoError(t, err)

	_, err = replicaB.Fetch(ctx, newTestRequest(t, http.MethodGet, "https://shared.example/", ""), 0)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState, "state tripped by one replica is visible to the other")
	assert.Equal(t, 0, healthy.RequestCount())
}
