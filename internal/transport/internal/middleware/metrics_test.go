package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_ObservesStatus(t *testing.T) {
	t.Parallel()

	var gotMethod string
	var gotStatus int
	h := NewMetricsMiddleware(func(method string, status int) {
		gotMethod, gotStatus = method, status
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/campaigns/1", nil))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, http.StatusTooManyRequests, gotStatus)
}

func TestNewMetricsMiddleware_NilObserver(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "observer cannot be nil", func() { NewMetricsMiddleware(nil) })
}
