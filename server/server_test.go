package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"carbonreceiver/aggregators"
	"carbonreceiver/arbiter"
	"carbonreceiver/core"
	"carbonreceiver/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeStats arbiter.Stats

func (s fakeStats) Stats() arbiter.Stats { return arbiter.Stats(s) }

type fakeArchive struct {
	commands []*core.Command
	host     string
	n        int
	err      error
}

func (a *fakeArchive) Recent(_ context.Context, host string, n int) ([]*core.Command, error) {
	a.host, a.n = host, n
	return a.commands, a.err
}

func newTestServices(t *testing.T) (*Services, *fakeArchive) {
	t.Helper()
	clock := util.NewFakeClock(util.MustParseTime("2020-01-01T00:00:00Z"))
	agg := aggregators.New(aggregators.Options{Interval: 5 * time.Second, Clock: clock})
	for _, h := range []string{"web01", "db01"} {
		agg.IngestValues(&core.Identity{Host: h, Plugin: "load", Type: "shortterm"}, []interface{}{0.5}, clock.Now())
	}

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "carbon_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	archive := &fakeArchive{commands: []*core.Command{{ID: 1, Timestamp: 1, Host: "web01", Service: "load", Command: "[1] x"}}}
	return &Services{
		Elements: agg,
		Stats:    fakeStats{Commands: 7, Elements: 2},
		Archive:  archive,
		Gatherer: reg,
	}, archive
}

func get(t *testing.T, svc *Services, url string) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	NewRouter(svc).ServeHTTP(w, httptest.NewRequest("GET", url, nil))
	resp := w.Result()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestElementsHandler(t *testing.T) {
	svc, _ := newTestServices(t)

	status, body := get(t, svc, "/elements")
	require.Equal(t, 200, status)
	resp := &ElementsResponse{}
	if err := json.Unmarshal([]byte(body), resp); err != nil {
		t.Fatal(err)
	}
	require.Len(t, resp.Elements, 2)
	require.Equal(t, "db01", resp.Elements[0].Host)
	require.Equal(t, "load", resp.Elements[0].Service)
	require.Equal(t, []string{"shortterm"}, resp.Elements[0].Metrics)
	require.False(t, resp.Elements[0].Ready)

	status, body = get(t, svc, "/elements?host=web01")
	require.Equal(t, 200, status)
	resp = &ElementsResponse{}
	if err := json.Unmarshal([]byte(body), resp); err != nil {
		t.Fatal(err)
	}
	require.Len(t, resp.Elements, 1)
	require.Equal(t, "web01", resp.Elements[0].Host)

	_, body = get(t, svc, "/elements?host=nobody")
	require.JSONEq(t, `{"elements":[]}`, body)
}

func TestStatsHandler(t *testing.T) {
	svc, _ := newTestServices(t)
	status, body := get(t, svc, "/stats")
	require.Equal(t, 200, status)

	stats := arbiter.Stats{}
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatal(err)
	}
	require.Equal(t, arbiter.Stats{Commands: 7, Elements: 2}, stats)
}

func TestCommandsHandler(t *testing.T) {
	svc, archive := newTestServices(t)

	status, body := get(t, svc, "/commands?host=web01&n=5")
	require.Equal(t, 200, status)
	require.JSONEq(t, `{"commands":[{"id":1,"timestamp":1,"host":"web01","service":"load","command":"[1] x"}]}`, body)
	require.Equal(t, "web01", archive.host)
	require.Equal(t, 5, archive.n)

	get(t, svc, "/commands")
	require.Equal(t, "", archive.host)
	require.Equal(t, defaultCommandsN, archive.n)

	for _, n := range []string{"0", "-1", "x", "1001"} {
		status, body = get(t, svc, "/commands?n="+n)
		require.Equal(t, 400, status, n)
		require.Contains(t, body, `"error"`)
	}

	archive.err = errors.New("database is locked")
	status, body = get(t, svc, "/commands")
	require.Equal(t, 500, status)
	require.JSONEq(t, `{"error":"database is locked"}`, body)

	svc.Archive = nil
	status, _ = get(t, svc, "/commands")
	require.Equal(t, 404, status)
}

func TestMetricsAndHealth(t *testing.T) {
	svc, _ := newTestServices(t)

	status, body := get(t, svc, "/metrics")
	require.Equal(t, 200, status)
	require.True(t, strings.Contains(body, "carbon_test_total 3"), body)

	status, body = get(t, svc, "/health")
	require.Equal(t, 200, status)
	require.JSONEq(t, `{"status":"ok"}`, body)

	svc.Gatherer = nil
	status, _ = get(t, svc, "/metrics")
	require.Equal(t, 404, status)
}

func TestServe(t *testing.T) {
	svc, _ := newTestServices(t)
	s := New("127.0.0.1:0", svc, time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, s) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
