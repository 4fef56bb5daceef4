package infrastructure

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"project_atendimento/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outbound() entities.OutboundRequest {
	return entities.OutboundRequest{
		ChannelID:   "0b6f3e52-8d1c-4a7f-b2e9-5c4d3a2b1f00",
		ChannelName: "Loja Centro",
		Instance:    entities.InstanceRef{Name: "inst-1", Endpoint: "http://gateway.local", APIKey: "key-one-1234"},
		PhoneNumber: "5511999990000",
		MessageType: entities.KindImage,
		MimeType:    "image/png",
		FileData:    "iVBORw0KGgo=",
		FileName:    "image_1772359200.png",
		FileFormat:  "png",
		Timestamp:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNewRelayPayload(t *testing.T) {
	p := NewRelayPayload(outbound())

	assert.Equal(t, "0b6f3e52-8d1c-4a7f-b2e9-5c4d3a2b1f00", p.Channel)
	assert.Equal(t, "inst-1", p.InstanceName)
	assert.Equal(t, "image", p.MessageType)
	assert.Equal(t, "iVBORw0KGgo=", p.FileData)
	assert.Equal(t, "2026-03-01T10:00:00Z", p.Timestamp)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "key-one-1234")
	assert.NotContains(t, string(raw), "data:")
}

func TestWebhookRelayDispatch(t *testing.T) {
	srv, requests := fakeGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	relay := NewWebhookRelay(srv.URL+"/hooks/outbound", time.Second, discardLogger())

	require.NoError(t, relay.Dispatch(context.Background(), outbound()))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/hooks/outbound", reqs[0].Path)
	assert.Equal(t, "5511999990000", reqs[0].Body["phoneNumber"])
	assert.Equal(t, "png", reqs[0].Body["fileFormat"])
}

func TestWebhookRelayRejected(t *testing.T) {
	srv, _ := fakeGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "workflow failed")
	})
	relay := NewWebhookRelay(srv.URL, time.Second, discardLogger())

	err := relay.Dispatch(context.Background(), outbound())
	assert.ErrorIs(t, err, entities.ErrGatewayRejected)
}

type recordingGateway struct {
	GatewayClient
	texts, media int
}

func (g *recordingGateway) SendText(ctx context.Context, ref entities.InstanceRef, number, text string) error {
	g.texts++
	return nil
}

func (g *recordingGateway) SendMedia(ctx context.Context, ref entities.InstanceRef, number string, req entities.OutboundRequest) error {
	g.media++
	return nil
}

func TestDirectDispatcherPicksEndpoint(t *testing.T) {
	gw := &recordingGateway{}
	d := NewDirectDispatcher(gw)

	req := outbound()
	require.NoError(t, d.Dispatch(context.Background(), req))
	req.MessageType = entities.KindText
	req.Content = "oi"
	require.NoError(t, d.Dispatch(context.Background(), req))

	assert.Equal(t, 1, gw.media)
	assert.Equal(t, 1, gw.texts)
}

func TestNewRelayEnvelope(t *testing.T) {
	env := NewRelayEnvelope(outbound())

	assert.NotEmpty(t, env.Meta.ID)
	assert.Equal(t, "5511999990000", env.Data.PhoneNumber)
	assert.False(t, env.Meta.OccurredAt.IsZero())
}
