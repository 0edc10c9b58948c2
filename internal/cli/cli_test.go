package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/flybeeper/region-heatmap/internal/auth"
	"github.com/flybeeper/region-heatmap/internal/export"
	"github.com/flybeeper/region-heatmap/internal/heatmap"
)

const regionsBody = `{"type":"FeatureCollection","features":[
	{"type":"Feature","id":1,"properties":{"name":"Москва"},"geometry":{"type":"Polygon","coordinates":[[[37,55],[38,55],[38,56],[37,55]]]}},
	{"type":"Feature","id":2,"properties":{"name":"Тверская область"},"geometry":{"type":"Polygon","coordinates":[[[34,56],[36,56],[36,58],[34,56]]]}},
	{"type":"Feature","id":3,"properties":{"name":"Псковская область"},"geometry":{"type":"Polygon","coordinates":[[[28,56],[31,56],[31,58],[28,56]]]}}]}`

// newBackend бэкенд аналитики; принимает только токен "good"
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/geo/regions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(regionsBody))
	})
	for id, flights := range map[int]int{1: 900, 2: 300, 3: 0} {
		body := fmt.Sprintf(`{"regionId":%d,"totalFlights":%d,"uniqueOperators":%d,"averageFlightDuration":42.5}`, id, flights, id)
		mux.HandleFunc(fmt.Sprintf("/regions/%d/stats", id), func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
	}
	mux.HandleFunc("/analytics/summary", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalFlights":1200,"totalOperators":6,"totalRegions":3}`))
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	backend := newBackend(t)
	t.Setenv("BACKEND_URL", backend.URL)
	t.Setenv("FETCH_PAUSE", "0s")
	t.Setenv("MQTT_URL", "")
	t.Setenv(TokenEnv, "")

	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestLoadCommand(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		out, _, err := run(t, "load", "--token", "good")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.GreaterOrEqual(t, len(lines), 4)
		assert.Contains(t, lines[0], "Регион")
		assert.Contains(t, lines[1], "Москва")
		assert.Contains(t, lines[2], "Тверская область")
		assert.Contains(t, lines[3], "Псковская область")
		assert.Contains(t, out, "Показано 3 из 3, с данными 2, всего полетов 1200")
	})

	t.Run("json with filter", func(t *testing.T) {
		out, _, err := run(t, "load", "--token", "good", "-o", "json", "-f", "ОБЛАСТЬ")
		require.NoError(t, err)

		var sb heatmap.Sidebar
		require.NoError(t, json.Unmarshal([]byte(out), &sb))
		require.Len(t, sb.Rows, 2)
		assert.Equal(t, 2, sb.Rows[0].ID)
		assert.Equal(t, 3, sb.Rows[1].ID)
		assert.Equal(t, 3, sb.TotalRegions)
	})

	t.Run("token from environment", func(t *testing.T) {
		backend := newBackend(t)
		t.Setenv("BACKEND_URL", backend.URL)
		t.Setenv("FETCH_PAUSE", "0s")
		t.Setenv(TokenEnv, "good")

		var stdout bytes.Buffer
		cmd := NewRootCommand()
		cmd.SetOut(&stdout)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"load"})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, stdout.String(), "Москва")
	})
}

func TestLoadCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing token", []string{"load"}, "bearer token is required"},
		{"rejected token", []string{"load", "--token", "bad"}, auth.ErrSessionExpired.Error()},
		{"bad output", []string{"load", "--token", "good", "-o", "yaml"}, "unknown output format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegionCommand(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		out, _, err := run(t, "region", "2", "--token", "good", "-o", "json")
		require.NoError(t, err)

		var d heatmap.Detail
		require.NoError(t, json.Unmarshal([]byte(out), &d))
		assert.Equal(t, 2, d.RegionID)
		assert.Equal(t, "Тверская область", d.Name)
		assert.Equal(t, int64(300), d.TotalFlights)
		require.NotNil(t, d.AverageFlightDuration)
		assert.Equal(t, 42.5, *d.AverageFlightDuration)
	})

	t.Run("text", func(t *testing.T) {
		out, _, err := run(t, "region", "1", "--token", "good")
		require.NoError(t, err)
		assert.Contains(t, out, "Москва (1)")
		assert.Contains(t, out, "42.5 мин")
	})

	for _, arg := range []string{"x", "0", "99"} {
		t.Run("invalid "+arg, func(t *testing.T) {
			_, _, err := run(t, "region", arg, "--token", "good")
			assert.Error(t, err)
		})
	}
}

func TestExportCommand(t *testing.T) {
	file := filepath.Join(t.TempDir(), "regions.xlsx")

	out, _, err := run(t, "export", "--token", "good", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Сохранено 3 регионов")

	f, err := excelize.OpenFile(file)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(export.SheetRegions)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Москва", rows[1][1])

	summary, err := f.GetRows(export.SheetSummary)
	require.NoError(t, err)
	assert.NotEmpty(t, summary)
}

func TestNotifyCommand_RequiresBroker(t *testing.T) {
	_, _, err := run(t, "notify", "--records", "10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT_URL is not set")
}
