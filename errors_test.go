package adaptq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	var syn *json.SyntaxError
	synErr := json.Unmarshal([]byte("{"), &struct{}{})
	require.ErrorAs(t, synErr, &syn)

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"classified", NewError(KindAuthentication, "nope"), KindAuthentication},
		{"wrapped classified", fmt.Errorf("call: %w", NewError(KindServerError, "502")), KindServerError},
		{"circuit open", &CircuitOpenError{Name: "api", Remaining: time.Second}, KindCircuitOpen},
		{"context canceled", context.Canceled, KindCancelled},
		{"wrapped canceled", fmt.Errorf("fetch: %w", context.Canceled), KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"no handler", fmt.Errorf("%w: %q", ErrNoHandler, "x"), KindValidation},
		{"conn refused", syscall.ECONNREFUSED, KindNetwork},
		{"unexpected eof", io.ErrUnexpectedEOF, KindNetwork},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.invalid"}, KindNetwork},
		{"url error", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("boom")}, KindNetwork},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindNetwork},
		{"json syntax", synErr, KindValidation},
		{"message rate limit", errors.New("429 Too Many Requests"), KindRateLimited},
		{"message timeout", errors.New("request timed out"), KindTimeout},
		{"message network", errors.New("read: connection reset by peer"), KindNetwork},
		{"message auth", errors.New("Unauthorized"), KindAuthentication},
		{"unknown", errors.New("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	require.False(t, IsRetryable(nil))
	for _, k := range []Kind{KindNetwork, KindTimeout, KindRateLimited, KindServerError, KindCircuitOpen} {
		require.True(t, IsRetryable(NewError(k, "x")), "kind %s", k)
	}
	for _, k := range []Kind{KindAuthentication, KindClientError, KindCancelled, KindValidation, KindUnknown} {
		require.False(t, IsRetryable(NewError(k, "x")), "kind %s", k)
	}
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindNetwork, cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "network: dial tcp: connection refused", err.Error())
	require.Nil(t, Wrap(KindNetwork, nil))

	e := &Error{Kind: KindServerError, StatusCode: 502}
	require.Equal(t, "server_error (status 502): operation failed", e.Error())
	require.True(t, e.Retryable())
}

func TestRetryAfter(t *testing.T) {
	require.Zero(t, RetryAfter(nil))
	require.Zero(t, RetryAfter(errors.New("x")))
	require.Equal(t, 3*time.Second, RetryAfter(RateLimitedError("slow down", 3*time.Second)))
	require.Equal(t, 3*time.Second, RetryAfter(fmt.Errorf("wrapped: %w", RateLimitedError("", 3*time.Second))))
	require.Equal(t, time.Second, RetryAfter(&CircuitOpenError{Name: "api", Remaining: time.Second}))
}

func TestCircuitOpenError_IsSentinel(t *testing.T) {
	err := fmt.Errorf("call: %w", &CircuitOpenError{Name: "api", Remaining: 1500 * time.Millisecond})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Contains(t, err.Error(), `"api"`)
	require.True(t, IsRetryable(err))
}

func TestAsError(t *testing.T) {
	require.Nil(t, AsError(nil))

	orig := NewError(KindTimeout, "slow")
	require.Same(t, orig, AsError(fmt.Errorf("x: %w", orig)))

	e := AsError(io.ErrUnexpectedEOF)
	require.Equal(t, KindNetwork, e.Kind)
	require.ErrorIs(t, e, io.ErrUnexpectedEOF)
}

func TestCancelledError_WrapsBoth(t *testing.T) {
	last := NewError(KindNetwork, "reset")
	err := cancelledError(context.Canceled, last)
	require.Equal(t, KindCancelled, Classify(err))
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, last)
	require.True(t, IsCancelled(err))
}
