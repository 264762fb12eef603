package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/hive-online/internal/hub"
	"github.com/DoyleJ11/hive-online/internal/supervisor"
	"github.com/DoyleJ11/hive-online/pkg/types"
)

func newServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, hub.Options{})

	srv := httptest.NewUnstartedServer(nil)
	workers := supervisor.NewRegistry("http://"+srv.Listener.Addr().String()+"/workers", supervisor.Options{Retry: 1})
	srv.Config.Handler = SetupRoutes(Deps{Hub: h, Workers: workers})
	srv.Start()

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, h
}

func postJSON(t *testing.T, url string, body any) (int, types.WorkerResponse) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer res.Body.Close()

	var out types.WorkerResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func TestProvision_ReturnsInstanceURL(t *testing.T) {
	srv, h := newServer(t)

	status, resp := postJSON(t, srv.URL+"/workers", types.ProvisionRequest{
		URL:     "broadcast",
		Options: types.ProvisionOptions{Alias: "r1"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, srv.URL+"/workers/r1", resp.URL)
	assert.NotNil(t, h.Get(context.Background(), "r1"))
}

func TestProvision_RejectsMissingAlias(t *testing.T) {
	srv, _ := newServer(t)

	status, resp := postJSON(t, srv.URL+"/workers", types.ProvisionRequest{URL: "broadcast"})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, http.StatusBadRequest, resp.Error.Status)
}

func TestRelayRequest_404UntilProvisioned(t *testing.T) {
	srv, _ := newServer(t)

	status, resp := postJSON(t, srv.URL+"/workers/r1", types.WorkerRequest{Message: json.RawMessage(`"hi"`)})
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, http.StatusNotFound, resp.Error.Status)

	postJSON(t, srv.URL+"/workers", types.ProvisionRequest{Options: types.ProvisionOptions{Alias: "r1"}})

	status, resp = postJSON(t, srv.URL+"/workers/r1", struct{}{})
	require.Equal(t, http.StatusOK, status)
	var relay types.RelayStatus
	require.NoError(t, json.Unmarshal(resp.Message, &relay))
	assert.Equal(t, stateRunning, relay.ServerState)
	assert.Empty(t, relay.Participants)
}

func TestWebsocket_404WithoutRelayThenJoin(t *testing.T) {
	srv, _ := newServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/r1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	postJSON(t, srv.URL+"/workers", types.ProvisionRequest{Options: types.ProvisionOptions{Alias: "r1"}})

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env types.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, []string{env.ID}, env.Participants)

	// Non-JSON text and malformed frames are ignored; the connection survives.
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("ping")))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{nope")))

	status, worker := postJSON(t, srv.URL+"/workers/r1", struct{}{})
	require.Equal(t, http.StatusOK, status)
	var relay types.RelayStatus
	require.NoError(t, json.Unmarshal(worker.Message, &relay))
	assert.Equal(t, stateConnected, relay.ServerState)
	assert.Equal(t, []string{env.ID}, relay.Participants)
}

func TestGateway_ProvisionsAndDerivesEndpoint(t *testing.T) {
	srv, h := newServer(t)

	res, err := http.Get(srv.URL + "/api/worker?room=game7")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out types.GatewayResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.True(t, out.Ready)
	assert.Equal(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/game7", out.WS)
	assert.NotNil(t, h.Get(context.Background(), "game7"))
}

func TestHealthz(t *testing.T) {
	srv, h := newServer(t)
	h.Ensure(context.Background(), "a")

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out struct {
		OK    bool `json:"ok"`
		Rooms int  `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.True(t, out.OK)
	assert.Equal(t, 1, out.Rooms)
}
