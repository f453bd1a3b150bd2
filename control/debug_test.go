package control

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugProbes_DumpState(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("nat.entries", func() any { return 3 })
	dp.RegisterProbe("nat.entries", func() any { return 4 })
	RegisterPlatformProbes(dp)

	state := dp.DumpState()
	assert.Equal(t, 4, state["nat.entries"])
	assert.Contains(t, state, "platform.cpus")
}

func TestHTTPHandler_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSessionMetrics(reg)
	m.SessionCreated("udp")

	dp := NewDebugProbes()
	dp.RegisterProbe("proxy.udp", func() any { return map[string]int{"sessions": 2} })
	srv := httptest.NewServer(NewHTTPHandler(dp, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/debug/state")
	require.NoError(t, err)
	var state map[string]map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	assert.Equal(t, 2, state["proxy.udp"]["sessions"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `hioload_nat_sessions_created_total{proxy="udp"} 1`)
}
