package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-facenode/pkg/bus"
	"github.com/teslashibe/go-facenode/pkg/metrics"
	"github.com/teslashibe/go-facenode/pkg/protocol"
)

func get(t *testing.T, s *Server, path string) (int, []byte) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	s := NewServer(bus.NewBroker(nil), nil, nil, nil)

	code, body := get(t, s, "/healthz")
	assert.Equal(t, fiber.StatusOK, code)

	var health map[string]string
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])
}

func TestStatus(t *testing.T) {
	b := bus.NewBroker(nil)
	b.Subscribe("/face_recognition/color_image", func(*protocol.Message) {})
	status := func() any {
		return map[string]int{"cycles": 7}
	}
	s := NewServer(b, status, nil, nil)

	code, body := get(t, s, "/api/status")
	require.Equal(t, fiber.StatusOK, code)

	var resp struct {
		Node map[string]int `json:"node"`
		Bus  bus.Stats      `json:"bus"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 7, resp.Node["cycles"])
	assert.Equal(t, 1, resp.Bus.Topics)
	assert.Equal(t, 1, resp.Bus.LocalSubscribers)
}

func TestStatusWithoutNode(t *testing.T) {
	s := NewServer(bus.NewBroker(nil), nil, nil, nil)

	code, body := get(t, s, "/api/status")
	require.Equal(t, fiber.StatusOK, code)
	assert.NotContains(t, string(body), `"node"`)
}

func TestBusRoutesMounted(t *testing.T) {
	s := NewServer(bus.NewBroker(nil), nil, nil, nil)

	code, _ := get(t, s, "/api/bus/topics")
	assert.Equal(t, fiber.StatusOK, code)

	code, _ = get(t, s, "/ws/subscribe/face_recognition/faces_images")
	assert.Equal(t, fiber.StatusUpgradeRequired, code)
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	m.ObserveCycle(10*time.Millisecond, 2, 1)
	s := NewServer(bus.NewBroker(nil), nil, m, nil)

	code, body := get(t, s, "/metrics")
	require.Equal(t, fiber.StatusOK, code)
	assert.True(t, strings.Contains(string(body), "facenode_cycles_total 1"))
}

func TestListenerAndShutdown(t *testing.T) {
	s := NewServer(bus.NewBroker(nil), nil, nil, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- s.Listener(ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listener did not return after Shutdown")
	}
}
