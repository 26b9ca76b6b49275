package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouter_EnvelopeFallbacks(t *testing.T) {
	t.Parallel()

	r := NewRouter(NewErrorResponder(quietLogger()))
	r.Method(http.MethodGet, "/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		method, path string
		wantStatus   int
		wantCode     string
	}{
		{http.MethodGet, "/metrics", http.StatusOK, ""},
		{http.MethodPost, "/metrics", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{http.MethodGet, "/nowhere", http.StatusNotFound, "ROUTE_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				_, body := decodeRecorded(t, rec)
				assert.Equal(t, tt.wantCode, errorField(body, "code"))
			}
		})
	}
}

func TestNewRouter_PanicsOnNilResponder(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "responder cannot be nil", func() { NewRouter(nil) })
}
