package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"project_atendimento/internal/entities"
	"project_atendimento/internal/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerFixture struct {
	router     *MessageRouter
	gateway    *fakeGateway
	dispatcher *gatewayDispatcher
	tables     *fakeTables
	mappings   *fakeMappings
	directory  *InstanceDirectory
	classifier *ContentClassifier
	tableDir   *TableDirectory
}

func newRouterFixture(t *testing.T, state entities.ConnectionState, limiter interfaces.SendLimiter) *routerFixture {
	t.Helper()

	channels := testChannels()
	gw := newFakeGateway(state)
	mappings := newFakeMappings()
	tables := newFakeTables(map[string]string{chatChannelID: "yelena_ai_conversas"})
	lc := NewConnectionLifecycle(gw, mappings, nil, NewCache[string, entities.ConnectionState](time.Minute),
		WebhookSettings{BaseURL: "https://atendimento.example.com"}, discardLogger())
	dir := NewInstanceDirectory(channels, testInstances(), mappings, lc, discardLogger())
	tableDir := NewTableDirectory(tables, channels, discardLogger())
	require.NoError(t, tableDir.Reload(context.Background()))
	classifier := NewContentClassifier("https://media.example.com/media/", tableDir)
	dispatcher := &gatewayDispatcher{gw: gw}

	router := NewMessageRouter(RouterDeps{
		Resolver:   NewIdentityResolver(channels, map[string]string{"chat": "Yelena AI"}, nil, discardLogger()),
		Directory:  dir,
		Lifecycle:  lc,
		Classifier: classifier,
		Tables:     tableDir,
		Dispatcher: dispatcher,
		Writer:     tables,
		Limiter:    limiter,
		Logger:     discardLogger(),
		Now:        func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) },
	})
	return &routerFixture{
		router: router, gateway: gw, dispatcher: dispatcher, tables: tables,
		mappings: mappings, directory: dir, classifier: classifier, tableDir: tableDir,
	}
}

func (f *routerFixture) mapChat(t *testing.T) {
	t.Helper()
	_, err := f.directory.Upsert(context.Background(), chatChannelID, "i-1")
	require.NoError(t, err)
}

func TestSendScenarioChatToInst1(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, nil)
	f.mapChat(t)

	res := f.router.Send(context.Background(), entities.SendRequest{Channel: "chat", Contact: "5511999999999", Body: "Hello"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, chatChannelID, res.ChannelID)
	assert.Equal(t, entities.KindText, res.Kind)

	sent := f.dispatcher.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "inst-1", sent[0].Instance.Name)
	assert.Equal(t, "5511999999999", sent[0].PhoneNumber)
	assert.Equal(t, 1, f.gateway.Calls("send_text"))

	rows := f.tables.Rows("yelena_ai_conversas")
	require.Len(t, rows, 1)
	assert.Equal(t, entities.KindText, rows[0].Kind)
	assert.Equal(t, "Hello", rows[0].Body)
	assert.Equal(t, entities.RoleAgent, rows[0].Role)
}

func TestSendWithoutMappingMakesNoGatewayCall(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, nil)

	res := f.router.Send(context.Background(), entities.SendRequest{Channel: "chat", Contact: "5511999999999", Body: "Hello"})
	assert.False(t, res.Success)
	assert.Equal(t, entities.CodeNoInstanceConfigured, res.Code)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, f.dispatcher.Sent())
	assert.Equal(t, 0, f.gateway.Calls("state"))
	assert.Equal(t, 0, f.gateway.Calls("send_text"))
}

func TestSendInactiveMappingIsNotConfigured(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, nil)
	f.mapChat(t)
	require.NoError(t, f.directory.Delete(context.Background(), chatChannelID))

	res := f.router.Send(context.Background(), entities.SendRequest{Channel: "chat", Contact: "5511999999999", Body: "Hello"})
	assert.Equal(t, entities.CodeNoInstanceConfigured, res.Code)
	assert.Empty(t, f.dispatcher.Sent())
}

func TestSendUnknownChannel(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, nil)
	res := f.router.Send(context.Background(), entities.SendRequest{Channel: "ghost", Contact: "1", Body: "x"})
	assert.False(t, res.Success)
	assert.Equal(t, entities.CodeChannelNotFound, res.Code)
	assert.Empty(t, res.ChannelID)
}

func TestSendImageRoundTrip(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, nil)
	f.mapChat(t)
	payload := "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg=="

	res := f.router.Send(context.Background(), entities.SendRequest{
		Channel: "chat", Contact: "5511999999999", Body: payload, Kind: entities.KindImage, Caption: "foto",
	})
	require.True(t, res.Success, res.Error)

	require.Equal(t, 1, f.gateway.Calls("send_media"))
	out := f.gateway.lastMedia
	assert.Equal(t, "iVBORw0KGgoAAAANSUhEUg==", out.FileData, "binary goes out as pure base64")
	assert.Equal(t, "png", out.FileFormat)
	assert.Equal(t, "image/png", out.MimeType)
	assert.Equal(t, "foto", out.Content)
	assert.Equal(t, "image_1772359200.png", out.FileName)

	history, err := f.router.History(context.Background(), "chat", "5511999999999", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entities.KindImage, history[0].Kind)
	assert.Equal(t, payload, history[0].Body)
}

func TestSendDeclaredMediaNeedsPayload(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, nil)
	f.mapChat(t)

	res := f.router.Send(context.Background(), entities.SendRequest{Channel: "chat", Contact: "1", Body: "just words", Kind: entities.KindAudio})
	assert.Equal(t, entities.CodeInvalidContent, res.Code)
	assert.Empty(t, f.dispatcher.Sent())
}

func TestSendSubstitutesLegacyPlaceholder(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, nil)
	f.mapChat(t)

	res := f.router.Send(context.Background(), entities.SendRequest{
		Channel: "chat", Contact: "1", Body: "[media]", MediaData: "https://cdn.example.org/v/clip.mp4",
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, entities.KindVideo, res.Kind)
	assert.Equal(t, "clip.mp4", f.gateway.lastMedia.FileName)

	res = f.router.Send(context.Background(), entities.SendRequest{Channel: "chat", Contact: "1", Body: "[media]"})
	assert.Equal(t, entities.CodeInvalidContent, res.Code)
}

func TestSendGatewayRejection(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, nil)
	f.mapChat(t)
	f.gateway.sendErr = entities.NewGatewayError(400, []byte(`{"message":"number not on whatsapp"}`))

	res := f.router.Send(context.Background(), entities.SendRequest{Channel: "chat", Contact: "1", Body: "hi"})
	assert.False(t, res.Success)
	assert.Equal(t, entities.CodeGatewayRejected, res.Code)
	assert.Contains(t, res.Error, "number not on whatsapp")
	assert.Empty(t, f.tables.Rows("yelena_ai_conversas"))
}

func TestSendDisconnectedInstance(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateDisconnected, nil)
	f.mapChat(t)

	res := f.router.Send(context.Background(), entities.SendRequest{Channel: "chat", Contact: "1", Body: "hi"})
	assert.Equal(t, entities.CodeInstanceUnreachable, res.Code)
	assert.Empty(t, f.dispatcher.Sent())
	assert.Equal(t, 0, f.gateway.Calls("restart"))
}

func TestSendPersistenceFailureIsAWarning(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, nil)
	f.mapChat(t)
	f.tables.writeErr = errors.New("relation does not exist")

	res := f.router.Send(context.Background(), entities.SendRequest{Channel: "chat", Contact: "1", Body: "hi"})
	assert.True(t, res.Success)
	assert.Equal(t, entities.CodePersistenceFailed, res.Code)
	assert.Contains(t, res.Warning, "relation does not exist")
	assert.Len(t, f.dispatcher.Sent(), 1)
}

func TestSendRateLimited(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, denyLimiter{})
	f.mapChat(t)

	res := f.router.Send(context.Background(), entities.SendRequest{Channel: "chat", Contact: "1", Body: "hi"})
	assert.Equal(t, entities.CodeRateLimited, res.Code)
	assert.Empty(t, f.dispatcher.Sent())
}

func TestSendRegistersDefaultTable(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, nil)
	_, err := f.directory.Upsert(context.Background(), storeChannelID, "i-2")
	require.NoError(t, err)

	res := f.router.Send(context.Background(), entities.SendRequest{Channel: "loja_centro", Contact: "1", Body: "oi"})
	require.True(t, res.Success, res.Error)

	table, ok := f.tableDir.TableFor(storeChannelID)
	require.True(t, ok)
	assert.Equal(t, "loja_centro_conversas", table)
	assert.Len(t, f.tables.Rows("loja_centro_conversas"), 1)
}

func TestPersistInboundClassifiesAndMarksContact(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, nil)

	id, err := f.router.PersistInbound(context.Background(), chatChannelID, entities.Message{
		SessionID: "5511999999999",
		Body:      "data:audio/ogg;base64,T2dnUw==",
		Kind:      "ptt",
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	rows := f.tables.Rows("yelena_ai_conversas")
	require.Len(t, rows, 1)
	assert.Equal(t, entities.KindAudio, rows[0].Kind)
	assert.Equal(t, entities.RoleContact, rows[0].Role)
	assert.Equal(t, "audio/ogg", rows[0].MimeType)
	assert.False(t, rows[0].Read)

	n, err := f.router.MarkRead(context.Background(), "chat", "5511999999999")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPersistInboundWriteFailure(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, entities.StateConnected, nil)
	f.tables.writeErr = errors.New("disk full")

	_, err := f.router.PersistInbound(context.Background(), "chat", entities.Message{SessionID: "1", Body: "oi"})
	assert.ErrorIs(t, err, entities.ErrPersistenceFailed)
}
