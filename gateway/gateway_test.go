package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadEncoding(t *testing.T) {
	p, err := NewPayload(OpIdentify, Identify{ServerID: "1", UserID: "2", SessionID: "s", Token: "t"})
	require.NoError(t, err)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":0,"d":{"server_id":"1","user_id":"2","session_id":"s","token":"t"}}`, string(raw))

	var back Payload
	require.NoError(t, json.Unmarshal(raw, &back))
	var id Identify
	require.NoError(t, back.Decode(&id))
	assert.Equal(t, "t", id.Token)

	var ready Ready
	assert.ErrorIs(t, Payload{Op: OpReady, Data: json.RawMessage(`"nope"`)}.Decode(&ready), ErrUnexpectedPayload)
}

func TestSessionDescriptionKey(t *testing.T) {
	good := make([]int, 32)
	for i := range good {
		good[i] = 255 - i
	}
	key, err := SessionDescription{SecretKey: good}.Key()
	require.NoError(t, err)
	assert.Equal(t, byte(255), key[0])
	assert.Equal(t, byte(224), key[31])

	_, err = SessionDescription{SecretKey: good[:31]}.Key()
	assert.ErrorIs(t, err, ErrUnexpectedPayload)

	bad := append([]int(nil), good...)
	bad[3] = 256
	_, err = SessionDescription{SecretKey: bad}.Key()
	assert.ErrorIs(t, err, ErrUnexpectedPayload)
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "SessionDescription", OpSessionDescription.String())
	assert.Equal(t, "Opcode(42)", Opcode(42).String())
}

func TestURL(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{"voice.example.com:443", "wss://voice.example.com:443/?v=4", false},
		{"ws://127.0.0.1:8080", "ws://127.0.0.1:8080/?v=4", false},
		{"http://example.com", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, err := URL(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecoveryFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Recovery
	}{
		{"network", errors.New("connection reset"), RecoverResume},
		{"crashed", &CloseError{Code: CloseServerCrashed}, RecoverResume},
		{"abnormal", &CloseError{Code: CloseAbnormal}, RecoverResume},
		{"timeout", &CloseError{Code: CloseSessionTimeout}, RecoverReconnect},
		{"normal", &CloseError{Code: CloseNormal}, RecoverReconnect},
		{"auth", &CloseError{Code: CloseAuthenticationFailed}, RecoverNone},
		{"invalid", &CloseError{Code: CloseSessionInvalid}, RecoverNone},
		{"not found", &CloseError{Code: CloseServerNotFound}, RecoverNone},
		{"kicked", &CloseError{Code: CloseDisconnected}, RecoverNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RecoveryFor(tt.err))
		})
	}
}

func TestWebsocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "4", r.URL.Query().Get("v"))
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_ = ws.WriteJSON(map[string]any{"op": 8, "d": map[string]any{"heartbeat_interval": 41250.0}})

		var in Payload
		if err := ws.ReadJSON(&in); err != nil {
			return
		}
		_ = ws.WriteJSON(map[string]any{"op": 6, "d": json.RawMessage(in.Data)})
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseSessionInvalid, "session is no longer valid"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := WebsocketDialer{}.Dial(ctx, "ws://"+strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	defer conn.Close(CloseNormal, "")

	p, err := conn.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, OpHello, p.Op)
	var hello Hello
	require.NoError(t, p.Decode(&hello))
	assert.Equal(t, 41250.0, hello.HeartbeatInterval)

	require.NoError(t, conn.Send(ctx, OpHeartbeat, uint64(1234)))
	p, err = conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, OpHeartbeatAck, p.Op)
	var nonce uint64
	require.NoError(t, p.Decode(&nonce))
	assert.Equal(t, uint64(1234), nonce)

	_, err = conn.Receive(ctx)
	var ce *CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CloseSessionInvalid, ce.Code)
	assert.Equal(t, RecoverNone, RecoveryFor(err))
}
