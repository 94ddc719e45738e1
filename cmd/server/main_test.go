package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voxelstream.io/internal/host"
	persistlog "voxelstream.io/internal/persistence/log"
	"voxelstream.io/internal/sim/world/terrain/gen"
	"voxelstream.io/internal/transport/udp"
)

func newTestMux(t *testing.T, idx runtimeIndex) (*httptest.Server, *host.Host) {
	t.Helper()
	conn, err := udp.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	h := host.New(host.Config{}, conn, host.NewService(gen.New(gen.DefaultParams(1)), conn.Codec()), nil)
	if err := h.Tick(time.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	ts := httptest.NewServer(newMux(h, idx, nil))
	t.Cleanup(ts.Close)
	return ts, h
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestMux_HealthzAndMetrics(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "")
	idx, err := openRuntimeIndex(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()
	ts, _ := newTestMux(t, idx)

	if code, body := get(t, ts.URL+"/healthz"); code != 200 || body != "ok" {
		t.Fatalf("healthz=%d %q", code, body)
	}
	code, body := get(t, ts.URL+"/metrics")
	if code != 200 {
		t.Fatalf("metrics status=%d", code)
	}
	for _, want := range []string{
		"voxelstream_host_tick 1\n",
		"voxelstream_host_sessions 0\n",
		`voxelstream_host_packets_total{dir="in"} 0`,
		"# TYPE voxelstream_host_served_total counter\n",
		"voxelstream_index_queue_capacity ",
		`voxelstream_index_dropped_total{kind="column"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestMux_AdminState(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "")
	ts, _ := newTestMux(t, nil)

	code, body := get(t, ts.URL+"/admin/v1/state")
	if code != 200 {
		t.Fatalf("state status=%d", code)
	}
	var resp struct {
		Tick    uint64       `json:"tick"`
		Metrics host.Metrics `json:"metrics"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Tick != 1 || resp.Metrics.Tick != 1 {
		t.Fatalf("state=%+v", resp)
	}
	if code, _ := get(t, ts.URL+"/v1/observe/bootstrap"); code != 200 {
		t.Fatalf("bootstrap status=%d", code)
	}
}

func TestMux_AdminDisabledInProduction(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "production")
	ts, _ := newTestMux(t, nil)
	if code, _ := get(t, ts.URL+"/admin/v1/state"); code != http.StatusNotFound {
		t.Fatalf("state status=%d want 404", code)
	}
}

func TestOpenRuntimeIndex_Disabled(t *testing.T) {
	idx, err := openRuntimeIndex("")
	if err != nil || idx != nil {
		t.Fatalf("empty path should disable: idx=%v err=%v", idx, err)
	}
	t.Setenv("VS_INDEX_BACKEND", "none")
	idx, err = openRuntimeIndex(filepath.Join(t.TempDir(), "x.sqlite"))
	if err != nil || idx != nil {
		t.Fatalf("backend none should disable: idx=%v err=%v", idx, err)
	}
	t.Setenv("VS_INDEX_BACKEND", "d1")
	if _, err := openRuntimeIndex(filepath.Join(t.TempDir(), "x.sqlite")); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}

type countingIndex struct{ sessions, columns int }

func (c *countingIndex) RecordSession(host.SessionEvent) { c.sessions++ }
func (c *countingIndex) RecordColumn(host.ColumnEvent)   { c.columns++ }

func TestHostIndex(t *testing.T) {
	if hostIndex(nil, nil) != nil {
		t.Fatalf("no sinks should give nil")
	}
	a, b := &countingIndex{}, &countingIndex{}
	m := multiIndex{a, b}
	m.RecordSession(host.SessionEvent{})
	m.RecordColumn(host.ColumnEvent{})
	m.RecordColumn(host.ColumnEvent{})
	if a.sessions != 1 || b.sessions != 1 || a.columns != 2 || b.columns != 2 {
		t.Fatalf("a=%+v b=%+v", a, b)
	}

	events := persistlog.NewEventLog(t.TempDir())
	defer events.Close()
	if _, ok := hostIndex(nil, events).(*persistlog.EventLog); !ok {
		t.Fatalf("single sink should be returned as-is")
	}
}
