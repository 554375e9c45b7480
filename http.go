package adaptq

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody bounds how much of an error response body ends up in messages.
const maxErrorBody = 4 << 10

// CheckResponse classifies an HTTP response. It returns nil for 1xx-3xx
// responses and a *Error otherwise. The body is read (bounded) but not closed.
func CheckResponse(resp *http.Response) error {
	if resp == nil {
		return NewError(KindValidation, "nil http response")
	}
	if resp.StatusCode < 400 {
		return nil
	}

	e := &Error{
		Kind:       kindForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    responseMessage(resp),
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return e
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthentication
	case code == http.StatusRequestTimeout:
		return KindTimeout
	case code >= 500:
		return KindServerError
	case code >= 400:
		return KindClientError
	default:
		return KindUnknown
	}
}

func responseMessage(resp *http.Response) string {
	msg := http.StatusText(resp.StatusCode)
	if resp.Body == nil {
		return msg
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	body := strings.TrimSpace(string(b))
	if body == "" {
		return msg
	}
	return msg + ": " + body
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
