package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/region-heatmap/internal/auth"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

const regionsBody = `{"type":"FeatureCollection","features":[
	{"type":"Feature","id":1,"properties":{"name":"Москва"},"geometry":{"type":"Polygon","coordinates":[[[37,55],[38,55],[38,56],[37,55]]]}}]}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *auth.Session) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	session := auth.NewSession("test-token")
	c := New(Config{BaseURL: server.URL, RequestTimeout: time.Second}, session, utils.NewNopLogger())
	return c, session
}

func TestClient_GetRegions(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geo/regions", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(regionsBody))
	})

	geoms, err := c.GetRegions(context.Background())
	require.NoError(t, err)
	require.Len(t, geoms, 1)
	assert.Equal(t, 1, geoms[0].ID)
	assert.Equal(t, "Москва", geoms[0].Name)
}

func TestClient_RegionStats(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/regions/42/stats", r.URL.Path)
		w.Write([]byte(`{"totalFlights": 15, "uniqueOperators": 3}`))
	})

	stats, err := c.RegionStats(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, stats.RegionID, "отсутствующий regionId заполняется запрошенным")
	assert.Equal(t, int64(15), stats.Flights())
	assert.Equal(t, int64(3), stats.Operators())
}

func TestClient_GetSummary(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analytics/summary", r.URL.Path)
		w.Write([]byte(`{"totalFlights": 1000, "totalOperators": 50, "totalRegions": 85, "dataLastUpdated": "2024-05-01"}`))
	})

	summary, err := c.GetSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), summary.TotalFlights)
	assert.Equal(t, int64(85), summary.TotalRegions)
	assert.Equal(t, "2024-05-01", summary.DataLastUpdated)
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantClass     string
		wantExpired   bool
		checkAsStatus bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantClass: "unauthorized", wantExpired: true},
		{name: "forbidden", status: http.StatusForbidden, wantClass: "unauthorized", wantExpired: true},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantClass: "status", checkAsStatus: true},
		{name: "not found", status: http.StatusNotFound, wantClass: "status", checkAsStatus: true},
		{name: "malformed json", status: http.StatusOK, body: `{"totalFlights": "many"}`, wantClass: "shape"},
		{name: "negative flights", status: http.StatusOK, body: `{"totalFlights": -5}`, wantClass: "shape"},
		{name: "region mismatch", status: http.StatusOK, body: `{"regionId": 8, "totalFlights": 5}`, wantClass: "shape"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, session := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.RegionStats(context.Background(), 7)
			require.Error(t, err)
			assert.Equal(t, tt.wantClass, Classify(err))
			assert.Equal(t, tt.wantExpired, session.Expired())
			assert.Equal(t, tt.wantExpired, IsUnauthorized(err))

			if tt.checkAsStatus {
				var statusErr *StatusError
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, tt.status, statusErr.StatusCode)
			}
		})
	}
}

func TestClient_ExpiredSessionShortCircuits(t *testing.T) {
	var calls int32
	c, session := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.RegionStats(context.Background(), 1)
	require.True(t, IsUnauthorized(err))
	require.True(t, session.Expired())

	// После истечения сессии запросы не уходят на бэкенд
	_, err = c.RegionStats(context.Background(), 2)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Timeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.RegionStats(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, "network", Classify(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalFlights": 1}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL + "/", RequestRate: 1}, auth.NewSession("t"), utils.NewNopLogger())
	require.NotNil(t, c.limiter)

	_, err := c.RegionStats(context.Background(), 1)
	require.NoError(t, err)

	// Второй запрос ждет токен лимитера дольше, чем позволяет контекст
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.RegionStats(ctx, 2)
	assert.Error(t, err)
}
