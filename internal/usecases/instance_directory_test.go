package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"project_atendimento/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirectory(gw *fakeGateway, mappings *fakeMappings) (*InstanceDirectory, *ConnectionLifecycle) {
	lc := NewConnectionLifecycle(gw, mappings, nil, NewCache[string, entities.ConnectionState](time.Minute),
		WebhookSettings{BaseURL: "https://atendimento.example.com/", Events: []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE"}},
		discardLogger())
	return NewInstanceDirectory(testChannels(), testInstances(), mappings, lc, discardLogger()), lc
}

func TestUpsertReplacesMappingForChannel(t *testing.T) {
	t.Parallel()

	mappings := newFakeMappings()
	dir, _ := newTestDirectory(newFakeGateway(entities.StateConnected), mappings)
	ctx := context.Background()

	first, err := dir.Upsert(ctx, chatChannelID, "i-1")
	require.NoError(t, err)
	second, err := dir.Upsert(ctx, chatChannelID, "i-2")
	require.NoError(t, err)

	all, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "i-2", all[0].InstanceID)
	assert.Equal(t, "inst-2", all[0].InstanceName)
	assert.True(t, all[0].IsActive)
}

func TestUpsertSnapshotsInstanceAndConfiguresWebhook(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(entities.StateConnected)
	dir, _ := newTestDirectory(gw, newFakeMappings())

	m, err := dir.Upsert(context.Background(), chatChannelID, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "Yelena AI", m.ChannelName)
	assert.Equal(t, "http://gateway.local/", m.Endpoint)
	assert.Equal(t, "key-one-1234", m.APIKey)

	require.Equal(t, 1, gw.Calls("set_webhook"))
	assert.Equal(t, "https://atendimento.example.com/webhook/gateway/"+chatChannelID, gw.webhook.URL)
	assert.True(t, gw.webhook.Enabled)
}

func TestUpsertSurvivesWebhookFailure(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(entities.StateConnected)
	gw.hookErr = errors.New("gateway down")
	dir, _ := newTestDirectory(gw, newFakeMappings())

	m, err := dir.Upsert(context.Background(), chatChannelID, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "inst-1", m.InstanceName)
}

func TestUpsertUnknownChannelOrInstance(t *testing.T) {
	t.Parallel()

	dir, _ := newTestDirectory(newFakeGateway(entities.StateConnected), newFakeMappings())

	_, err := dir.Upsert(context.Background(), "missing", "i-1")
	assert.ErrorIs(t, err, entities.ErrChannelNotFound)

	_, err = dir.Upsert(context.Background(), chatChannelID, "i-9")
	assert.ErrorIs(t, err, entities.ErrInstanceNotFound)
}

func TestDeleteDeactivatesMapping(t *testing.T) {
	t.Parallel()

	mappings := newFakeMappings()
	gw := newFakeGateway(entities.StateConnected)
	dir, _ := newTestDirectory(gw, mappings)
	ctx := context.Background()

	_, err := dir.Upsert(ctx, chatChannelID, "i-1")
	require.NoError(t, err)
	require.NoError(t, dir.Delete(ctx, chatChannelID))

	m, err := dir.GetForChannel(ctx, chatChannelID)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = dir.Require(ctx, chatChannelID)
	assert.ErrorIs(t, err, entities.ErrNoInstanceConfigured)
	assert.Equal(t, 0, gw.Calls("delete"), "gateway instance must be left alone")

	_, err = dir.Upsert(ctx, chatChannelID, "i-1")
	require.NoError(t, err)
	m, err = dir.GetForChannel(ctx, chatChannelID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, m.IsActive)
}

func TestTestConnectionNeverFails(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(entities.StateConnected)
	dir, _ := newTestDirectory(gw, newFakeMappings())
	m := entities.InstanceMapping{InstanceName: "inst-1", Endpoint: "http://gateway.local"}

	assert.Equal(t, entities.StateConnected, dir.TestConnection(context.Background(), m))

	gw.stateErr = errors.New("connection refused")
	assert.Equal(t, entities.StateDisconnected, dir.TestConnection(context.Background(), m))
}
