package infrastructure

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"project_atendimento/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedRequest struct {
	Method string
	Path   string
	APIKey string
	Body   map[string]any
}

// fakeGatewayServer answers with handler and records every request.
func fakeGatewayServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, APIKey: r.Header.Get("apikey")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		mu.Lock()
		seen = append(seen, rec)
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), seen...)
	}
}

func refFor(srv *httptest.Server) entities.InstanceRef {
	return entities.InstanceRef{Name: "loja centro", Endpoint: srv.URL + "/", APIKey: "key-one-1234"}
}

func TestGatewayClientConnectionState(t *testing.T) {
	srv, requests := fakeGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"instance":{"instanceName":"loja centro","state":"open"}}`)
	})
	client := NewGatewayClient(time.Second, discardLogger())

	state, err := client.ConnectionState(context.Background(), refFor(srv))
	require.NoError(t, err)
	assert.Equal(t, entities.StateConnected, state)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, "/instance/connectionState/loja centro", reqs[0].Path)
	assert.Equal(t, "key-one-1234", reqs[0].APIKey)
}

func TestGatewayClientConnect(t *testing.T) {
	srv, _ := fakeGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"pairingCode":"WZYEH1YY","code":"2@y8eK+bjtEjUWy9/FOM","base64":"data:image/png;base64,iVBORw0KGgo=","count":1}`)
	})
	client := NewGatewayClient(time.Second, discardLogger())

	handle, err := client.Connect(context.Background(), refFor(srv))
	require.NoError(t, err)
	assert.Equal(t, entities.StateConnecting, handle.State)
	assert.Equal(t, "WZYEH1YY", handle.PairingCode)
	assert.Equal(t, "2@y8eK+bjtEjUWy9/FOM", handle.Code)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", handle.QRCode)
}

func TestGatewayClientConnectAlreadyOpen(t *testing.T) {
	srv, _ := fakeGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"instance":{"instanceName":"loja centro","state":"open"}}`)
	})
	client := NewGatewayClient(time.Second, discardLogger())

	handle, err := client.Connect(context.Background(), refFor(srv))
	require.NoError(t, err)
	assert.Equal(t, entities.StateConnected, handle.State)
	assert.Empty(t, handle.Code)
}

func TestGatewayClientRejected(t *testing.T) {
	srv, _ := fakeGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"status":401,"error":"Unauthorized"}`)
	})
	client := NewGatewayClient(time.Second, discardLogger())

	err := client.SendText(context.Background(), refFor(srv), "5511999990000", "oi")
	require.Error(t, err)
	assert.ErrorIs(t, err, entities.ErrGatewayRejected)
	assert.Equal(t, entities.CodeGatewayRejected, entities.ErrorCode(err))

	var gwErr *entities.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusUnauthorized, gwErr.StatusCode)
	assert.Contains(t, gwErr.Body, "Unauthorized")
}

func TestGatewayClientTimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	srv, _ := fakeGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	client := NewGatewayClient(50*time.Millisecond, discardLogger())

	_, err := client.ConnectionState(context.Background(), refFor(srv))
	assert.ErrorIs(t, err, entities.ErrInstanceUnreachable)
}

func TestGatewayClientMalformedState(t *testing.T) {
	srv, _ := fakeGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	})
	client := NewGatewayClient(time.Second, discardLogger())

	state, err := client.ConnectionState(context.Background(), refFor(srv))
	assert.Error(t, err)
	assert.Equal(t, entities.StateDisconnected, state)
}

func TestGatewayClientSendMedia(t *testing.T) {
	srv, requests := fakeGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"key":{"id":"BAE5"}}`)
	})
	client := NewGatewayClient(time.Second, discardLogger())
	ref := refFor(srv)

	err := client.SendMedia(context.Background(), ref, "5511999990000", entities.OutboundRequest{
		Instance:    ref,
		Content:     "nota fiscal",
		MessageType: entities.KindDocument,
		MimeType:    "application/pdf",
		FileData:    "JVBERi0xLjQ=",
		FileName:    "document_1772359200.pdf",
	})
	require.NoError(t, err)

	err = client.SendMedia(context.Background(), ref, "5511999990000", entities.OutboundRequest{
		Instance:    ref,
		MessageType: entities.KindAudio,
		MimeType:    "audio/ogg",
		FileData:    "T2dnUw==",
	})
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/message/sendMedia/loja centro", reqs[0].Path)
	assert.Equal(t, "document", reqs[0].Body["mediatype"])
	assert.Equal(t, "JVBERi0xLjQ=", reqs[0].Body["media"])
	assert.Equal(t, "nota fiscal", reqs[0].Body["caption"])
	assert.Equal(t, "/message/sendWhatsAppAudio/loja centro", reqs[1].Path)
	assert.Equal(t, "T2dnUw==", reqs[1].Body["audio"])
}

func TestGatewayClientWebhook(t *testing.T) {
	srv, requests := fakeGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, `{"enabled":true,"url":"https://console.example.com/webhook/gateway/abc","events":["MESSAGES_UPSERT"]}`)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	})
	client := NewGatewayClient(time.Second, discardLogger())
	ref := refFor(srv)

	require.NoError(t, client.SetWebhook(context.Background(), ref, entities.WebhookConfig{
		Enabled: true,
		URL:     "https://console.example.com/webhook/gateway/abc",
		Events:  []string{"MESSAGES_UPSERT"},
	}))
	cfg, err := client.FindWebhook(context.Background(), ref)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, []string{"MESSAGES_UPSERT"}, cfg.Events)

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/webhook/set/loja centro", reqs[0].Path)
	hook, ok := reqs[0].Body["webhook"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, hook["enabled"])
	assert.Equal(t, "/webhook/find/loja centro", reqs[1].Path)
}

func TestGatewayClientUnreachableEndpoint(t *testing.T) {
	client := NewGatewayClient(time.Second, discardLogger())
	ref := entities.InstanceRef{Name: "inst-1", Endpoint: "http://127.0.0.1:1", APIKey: "key"}

	err := client.Restart(context.Background(), ref)
	assert.ErrorIs(t, err, entities.ErrInstanceUnreachable)
}
