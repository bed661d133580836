package cache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPInvalidator(t *testing.T) {
	var got invalidateRequest
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	inv := NewHTTPInvalidator(srv.URL)
	ctx := context.Background()

	require.NoError(t, inv.OnRecordsChanged(ctx, []string{"at://a/b/c", "at://a/b/d"}))
	assert.Equal(t, []string{"at://a/b/c", "at://a/b/d"}, got.URIs)

	status = http.StatusBadGateway
	assert.Error(t, inv.OnRecordsChanged(ctx, []string{"at://a/b/c"}))

	assert.NoError(t, inv.OnRecordsChanged(ctx, nil))
	assert.NoError(t, Noop{}.OnRecordsChanged(ctx, []string{"x"}))
}
