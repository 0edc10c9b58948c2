package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/flybeeper/region-heatmap/internal/auth"
	"github.com/flybeeper/region-heatmap/internal/client"
	"github.com/flybeeper/region-heatmap/internal/config"
	"github.com/flybeeper/region-heatmap/internal/handler"
	"github.com/flybeeper/region-heatmap/internal/view"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

const regionCount = 12

// analyticsBackend бэкенд аналитики в памяти: 12 регионов, отказ авторизации по флагу
type analyticsBackend struct {
	server *httptest.Server

	mu        sync.Mutex
	flights   map[int]int
	failing   map[int]bool
	rejectAll bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	statsCalls  atomic.Int32
	geomCalls   atomic.Int32
}

func newAnalyticsBackend() *analyticsBackend {
	b := &analyticsBackend{
		flights: make(map[int]int),
		failing: make(map[int]bool),
	}
	for id := 1; id <= regionCount; id++ {
		b.flights[id] = id * 10
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

func (b *analyticsBackend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	reject := b.rejectAll
	b.mu.Unlock()
	if reject || r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == "/geo/regions":
		b.geomCalls.Add(1)
		w.Write([]byte(b.regions()))

	case r.URL.Path == "/analytics/summary":
		w.Write([]byte(`{"totalFlights":780,"totalOperators":40,"totalRegions":12}`))

	case strings.HasPrefix(r.URL.Path, "/regions/"):
		var id int
		if _, err := fmt.Sscanf(r.URL.Path, "/regions/%d/stats", &id); err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		b.statsCalls.Add(1)

		n := b.inFlight.Add(1)
		defer b.inFlight.Add(-1)
		for {
			max := b.maxInFlight.Load()
			if n <= max || b.maxInFlight.CompareAndSwap(max, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)

		b.mu.Lock()
		flights, fail := b.flights[id], b.failing[id]
		b.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"regionId":%d,"totalFlights":%d,"uniqueOperators":%d}`, id, flights, id)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *analyticsBackend) regions() string {
	features := make([]string, 0, regionCount)
	for id := 1; id <= regionCount; id++ {
		x := float64(id)
		features = append(features, fmt.Sprintf(
			`{"type":"Feature","id":%d,"properties":{"name":"Регион %02d"},"geometry":{"type":"Polygon","coordinates":[[[%g,50],[%g,50],[%g,51],[%g,51],[%g,50]]]}}`,
			id, id, x, x+1, x+1, x, x))
	}
	return `{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`
}

// PipelineTestSuite сквозной тест: бэкенд -> клиент -> загрузка -> HTTP API
type PipelineTestSuite struct {
	suite.Suite
	backend *analyticsBackend
	hub     *view.Hub
	server  *handler.Server
}

func (s *PipelineTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	logger := utils.NewNopLogger()

	s.backend = newAnalyticsBackend()

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Address: ":0"},
		Backend:     config.BackendConfig{BaseURL: s.backend.server.URL, RequestTimeout: 2 * time.Second},
		Fetch:       config.FetchConfig{Concurrency: 5, Pause: 20 * time.Millisecond},
		Heatmap:     config.HeatmapConfig{IndexPrecision: 3},
		Session:     config.SessionConfig{IdleTTL: time.Minute, MaxSessions: 10},
	}
	backend := client.Config{BaseURL: cfg.Backend.BaseURL, RequestTimeout: cfg.Backend.RequestTimeout}

	s.hub = view.NewHub(view.NewConfig(cfg), func(session *auth.Session) view.Source {
		return client.New(backend, session, logger)
	}, logger)
	s.server = handler.NewServer(cfg, s.hub, logger)
}

func (s *PipelineTestSuite) TearDownTest() {
	s.hub.Shutdown()
	s.backend.server.Close()
}

func (s *PipelineTestSuite) request(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer user-token")

	w := httptest.NewRecorder()
	s.server.Router().ServeHTTP(w, req)
	return w
}

func (s *PipelineTestSuite) openView() string {
	w := s.request(http.MethodPost, "/api/v1/views", "")
	s.Require().Equal(http.StatusCreated, w.Code)

	var resp struct {
		ID string `json:"id"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.ID
}

func (s *PipelineTestSuite) status(id string) view.LoadStatus {
	w := s.request(http.MethodGet, "/api/v1/views/"+id, "")
	var resp struct {
		Status view.LoadStatus `json:"status"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Status
}

func (s *PipelineTestSuite) waitLoads(id string, loads int, status view.Status) view.LoadStatus {
	var last view.LoadStatus
	s.Require().Eventually(func() bool {
		last = s.status(id)
		return last.Loads >= loads && last.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return last
}

func (s *PipelineTestSuite) TestLoadAndInteract() {
	id := s.openView()
	st := s.waitLoads(id, 1, view.StatusReady)

	s.Equal(regionCount, st.Progress.Total)
	s.Equal(3, st.Progress.Chunks)
	s.Empty(st.FailedRegions)
	s.LessOrEqual(s.backend.maxInFlight.Load(), int32(5))

	// Самый активный регион окрашен в красный, список отсортирован по убыванию
	w := s.request(http.MethodGet, "/api/v1/views/"+id+"/sidebar", "")
	s.Require().Equal(http.StatusOK, w.Code)
	var sb struct {
		Rows []struct {
			ID    int    `json:"id"`
			Color string `json:"color"`
		} `json:"rows"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &sb))
	s.Require().Len(sb.Rows, regionCount)
	s.Equal(12, sb.Rows[0].ID)
	s.Equal("#ff0000", sb.Rows[0].Color)

	// Наведение по координатам и выбор с детальной статистикой
	w = s.request(http.MethodPost, "/api/v1/views/"+id+"/events", `{"type":"pointer_at","lon":7.5,"lat":50.5}`)
	s.Require().Equal(http.StatusOK, w.Code)
	var sv view.StateView
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &sv))
	s.Require().NotNil(sv.Tooltip)
	s.Equal(7, sv.State.Hover.RegionID)

	statsBefore := s.backend.statsCalls.Load()
	w = s.request(http.MethodPost, "/api/v1/views/"+id+"/events", `{"type":"click","regionId":7}`)
	s.Require().Equal(http.StatusOK, w.Code)

	s.Require().Eventually(func() bool {
		w := s.request(http.MethodGet, "/api/v1/views/"+id+"/state", "")
		var sv view.StateView
		return json.Unmarshal(w.Body.Bytes(), &sv) == nil && sv.Detail != nil && sv.Detail.TotalFlights == 70
	}, 2*time.Second, 10*time.Millisecond)
	s.Equal(statsBefore+1, s.backend.statsCalls.Load())
}

func (s *PipelineTestSuite) TestPartialFailureAndReload() {
	s.backend.mu.Lock()
	s.backend.failing[4] = true
	s.backend.mu.Unlock()

	id := s.openView()
	st := s.waitLoads(id, 1, view.StatusReady)
	s.Equal([]int{4}, st.FailedRegions)
	s.Equal(int32(1), s.backend.geomCalls.Load())

	// Импорт новых данных: перезагрузка всех представлений, как по MQTT уведомлению
	s.backend.mu.Lock()
	s.backend.failing[4] = false
	s.backend.flights[1] = 1000
	s.backend.mu.Unlock()
	s.Equal(1, s.hub.ReloadAll())

	st = s.waitLoads(id, 2, view.StatusReady)
	s.Empty(st.FailedRegions)
	s.Equal(int32(1), s.backend.geomCalls.Load(), "geometry is loaded once per view")

	w := s.request(http.MethodGet, "/api/v1/views/"+id+"/aggregate", "")
	var resp struct {
		Aggregate struct {
			MaxFlights int64 `json:"maxFlights"`
		} `json:"aggregate"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(int64(1000), resp.Aggregate.MaxFlights)
}

func (s *PipelineTestSuite) TestSessionExpiryKeepsLastDataset() {
	id := s.openView()
	s.waitLoads(id, 1, view.StatusReady)

	s.backend.mu.Lock()
	s.backend.rejectAll = true
	s.backend.mu.Unlock()

	w := s.request(http.MethodPost, "/api/v1/views/"+id+"/reload", "")
	s.Require().Equal(http.StatusAccepted, w.Code)

	s.Require().Eventually(func() bool {
		return s.status(id).Status == view.StatusExpired
	}, 5*time.Second, 10*time.Millisecond)

	// Прежний набор остается доступен для чтения
	w = s.request(http.MethodGet, "/api/v1/views/"+id+"/regions", "")
	s.Equal(http.StatusOK, w.Code)

	w = s.request(http.MethodPost, "/api/v1/views/"+id+"/events", `{"type":"click","regionId":1}`)
	s.Equal(http.StatusUnauthorized, w.Code)

	s.Equal(0, s.hub.ReloadAll(), "expired views are not reloaded")
}

func TestPipelineSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PipelineTestSuite))
}

func TestAnalyticsBackend_Regions(t *testing.T) {
	b := newAnalyticsBackend()
	defer b.server.Close()

	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal([]byte(b.regions()), &fc))
	require.Len(t, fc.Features, regionCount)
}
