package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gitee.com/Ljolan/si-im/config"
	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/core/registry"
	"gitee.com/Ljolan/si-im/core/service"
	"github.com/stretchr/testify/require"
)

func newBroker(t *testing.T) *service.Server {
	cfg, err := config.Parse(`
[broker]
brokerId = "node-admin"
tcpAddr = "127.0.0.1:0"
`)
	require.NoError(t, err)
	cfg.SetDefaults()
	s, err := service.NewServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

type voResp struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func do(t *testing.T, a *Server, method, path string, body interface{}) (int, *voResp) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	vo := &voResp{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), vo))
	return w.Code, vo
}

func TestHealthAndStats(t *testing.T) {
	a := New(newBroker(t))
	code, vo := do(t, a, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, message.CodeSuccess, vo.Code)

	code, vo = do(t, a, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, code)
	st := &service.Stats{}
	require.NoError(t, json.Unmarshal(vo.Data, st))
	require.Equal(t, "node-admin", st.BrokerId)
}

func TestSessionsAndPush(t *testing.T) {
	b := newBroker(t)
	a := New(b)

	tr := registry.NewMockTransport("127.0.0.1:6000")
	id := registry.Identity{AppId: 7, UserId: "alice", ClientType: message.Web, Imei: "w1"}
	_, err := b.Registry().Bind(context.Background(), id, b.Registry().Add(tr))
	require.NoError(t, err)

	code, vo := do(t, a, http.MethodGet, "/v1/sessions/7/alice", nil)
	require.Equal(t, http.StatusOK, code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(vo.Data, &list))
	require.Len(t, list, 1)

	code, _ = do(t, a, http.MethodGet, "/v1/sessions/x/alice", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, vo = do(t, a, http.MethodPost, "/v1/push", &PushReq{AppId: 7, UserId: "alice", Command: message.Command(4100), Data: map[string]string{"k": "v"}})
	require.Equal(t, http.StatusOK, code)
	resp := &PushResp{}
	require.NoError(t, json.Unmarshal(vo.Data, resp))
	require.Equal(t, []string{id.String()}, resp.Live)
	require.Equal(t, []message.Command{message.Command(4100)}, tr.Commands())

	code, vo = do(t, a, http.MethodPost, "/v1/push", map[string]interface{}{"appId": 7})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, message.CodeParamError, vo.Code)
}
