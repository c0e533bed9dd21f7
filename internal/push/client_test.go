package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"duotime/pkg/circuitbreaker"
	"duotime/pkg/config"
	"duotime/pkg/trace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(config.PushConfig{Endpoint: srv.URL, AccessToken: "expo-token", TimeoutMs: 1000}, nil)
	c.retryDelay = 0
	return c, &calls
}

func ok(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(`{"data":{"status":"ok","id":"ticket-1"}}`))
}

func TestClient_SendsExpoMessage(t *testing.T) {
	var got Message
	var auth, traceID string
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		traceID = r.Header.Get(trace.HeaderName)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		ok(w, r)
	})

	badge := 3
	ctx := trace.WithContext(context.Background(), "trace-123")
	err := c.Send(ctx, Message{To: "ExponentPushToken[x]", Title: "Love Note", Body: "hi", Sound: "default", Badge: &badge, Priority: "high"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), *calls)
	assert.Equal(t, "Bearer expo-token", auth)
	assert.Equal(t, "trace-123", traceID)
	assert.Equal(t, "ExponentPushToken[x]", got.To)
	assert.Equal(t, "default", got.Sound)
	assert.Equal(t, "high", got.Priority)
	require.NotNil(t, got.Badge)
	assert.Equal(t, 3, *got.Badge)
}

func TestClient_RetriesOnceOnServerError(t *testing.T) {
	var n int32
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		ok(w, r)
	})

	require.NoError(t, c.Send(context.Background(), Message{To: "ExponentPushToken[x]"}))
	assert.Equal(t, int32(2), *calls)
}

func TestClient_GivesUpAfterOneRetry(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := c.Send(context.Background(), Message{To: "ExponentPushToken[x]"})
	assert.ErrorContains(t, err, "503")
	assert.Equal(t, int32(2), *calls)
}

func TestClient_DeviceNotRegisteredDoesNotTripBreaker(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"status":"error","message":"not registered","details":{"error":"DeviceNotRegistered"}}}`))
	})

	for i := 0; i < 10; i++ {
		err := c.Send(context.Background(), Message{To: "ExponentPushToken[x]"})
		assert.ErrorIs(t, err, ErrDeviceNotRegistered)
	}
	assert.Equal(t, int32(10), *calls)
	assert.Equal(t, circuitbreaker.StateClosed, c.Breaker().GetState())
}

func TestClient_BreakerOpensOnRepeatedFailures(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 5; i++ {
		_ = c.Send(context.Background(), Message{To: "ExponentPushToken[x]"})
	}
	before := atomic.LoadInt32(calls)

	err := c.Send(context.Background(), Message{To: "ExponentPushToken[x]"})
	assert.True(t, errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen))
	assert.Equal(t, before, atomic.LoadInt32(calls))
}

func TestClient_NoToken(t *testing.T) {
	c, calls := newTestClient(t, ok)
	assert.ErrorIs(t, c.Send(context.Background(), Message{}), ErrNoDeviceToken)
	assert.Zero(t, *calls)
}

func TestParseTicket(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"single ok", `{"data":{"status":"ok","id":"a"}}`, false},
		{"batch ok", `{"data":[{"status":"ok","id":"a"},{"status":"ok","id":"b"}]}`, false},
		{"batch with error", `{"data":[{"status":"ok"},{"status":"error","message":"too big","details":{"error":"MessageTooBig"}}]}`, true},
		{"request error", `{"errors":[{"code":"VALIDATION_ERROR","message":"bad"}]}`, true},
		{"garbage", `not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseTicket([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
