package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/snapshotter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectorFor points a collector for kind at srv instead of the fixed port.
func collectorFor(t *testing.T, kind snapshotter.Kind, srv *httptest.Server) *Collector {
	t.Helper()
	c := NewCollector(kind, "127.0.0.1", 2*time.Second)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	c.url = "http://" + u.Host + "/metrics"
	return c
}

func TestCollect_SumsMatchingLines(t *testing.T) {
	body := strings.Join([]string{
		`# HELP stargz_fs_operation_count The stargz operations`,
		`# TYPE stargz_fs_operation_count counter`,
		`stargz_fs_operation_count{layer="sha256:aaa",operation_type="on_demand_remote_registry_fetch_count"} 4`,
		`stargz_fs_operation_count{layer="sha256:aaa",operation_type="on_demand_read_bytes"} 1000`,
		`stargz_fs_operation_count{layer="sha256:bbb",operation_type="on_demand_remote_registry_fetch_count"} 9`,
		`fleet_fs_operation_count{layer="sha256:ccc",operation_type="on_demand_remote_registry_fetch_count"} 100`,
	}, "\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metrics", r.URL.Path)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	got, err := collectorFor(t, snapshotter.Stargz, srv).Collect(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Applicable)
	assert.Equal(t, uint64(13), got.Sum)
}

func TestCollect_FromPrometheusRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_fs_operation_count",
		Help: "The fleet operations",
	}, []string{"layer", "operation_type"})
	reg.MustRegister(ops)

	values := []float64{3, 5, 11}
	for i, v := range values {
		ops.WithLabelValues("sha256:"+strconv.Itoa(i), FetchOperation).Add(v)
		ops.WithLabelValues("sha256:"+strconv.Itoa(i), "on_demand_read_bytes").Add(4096)
	}

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	got, err := collectorFor(t, snapshotter.Fleet, srv).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(19), got.Sum)
}

func TestCollect_NoMatchesIsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("go_goroutines 12\n"))
	}))
	defer srv.Close()

	got, err := collectorFor(t, snapshotter.Stargz, srv).Collect(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Applicable)
	assert.Zero(t, got.Sum)
}

func TestCollect_BaselineNotApplicable(t *testing.T) {
	c := NewCollector(snapshotter.Overlayfs, "127.0.0.1", time.Second)
	got, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.False(t, got.Applicable)
	assert.Empty(t, c.URL())
}

func TestCollect_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := collectorFor(t, snapshotter.Stargz, srv).Collect(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	overflow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`stargz_fs_operation_count{operation_type="on_demand_remote_registry_fetch_count"} 99999999999999999999999`))
	}))
	defer overflow.Close()

	_, err = collectorFor(t, snapshotter.Stargz, overflow).Collect(context.Background())
	assert.Error(t, err)

	// Nothing listens here once the server is closed.
	closed := httptest.NewServer(http.NotFoundHandler())
	c := collectorFor(t, snapshotter.Stargz, closed)
	closed.Close()
	_, err = c.Collect(context.Background())
	assert.Error(t, err)
}

func TestDefaultEndpoints(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8234/metrics", NewCollector(snapshotter.Stargz, "127.0.0.1", time.Second).URL())
	assert.Equal(t, "http://127.0.0.1:8334/metrics", NewCollector(snapshotter.Fleet, "127.0.0.1", time.Second).URL())
}

func TestPortOverrideFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Port = 9100
	assert.Equal(t, "http://127.0.0.1:9100/metrics", NewCollectorFromConfig(cfg, snapshotter.Fleet).URL())
	assert.Empty(t, NewCollectorFromConfig(cfg, snapshotter.Overlayfs).URL())
}
