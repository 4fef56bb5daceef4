package usecases

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"project_atendimento/internal/entities"
)

const (
	chatChannelID  = "af1e5797-3c2b-4b8e-9a51-6d0f2c7e4b10"
	storeChannelID = "0b6f3e52-8d1c-4a7f-b2e9-5c4d3a2b1f00"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChannels is an in-memory channel directory counting full loads.
type fakeChannels struct {
	mu       sync.Mutex
	channels []entities.Channel
	delay    time.Duration
	listErr  error
	lists    atomic.Int32
	started  chan struct{}
}

func (f *fakeChannels) ListChannels(ctx context.Context) ([]entities.Channel, error) {
	f.lists.Add(1)
	f.mu.Lock()
	snapshot := append([]entities.Channel(nil), f.channels...)
	started := f.started
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return snapshot, nil
}

func (f *fakeChannels) add(ch entities.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, ch)
}

func (f *fakeChannels) GetChannel(ctx context.Context, id string) (*entities.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		if ch.ID == id {
			c := ch
			return &c, nil
		}
	}
	return nil, nil
}

func testChannels() *fakeChannels {
	return &fakeChannels{channels: []entities.Channel{
		{ID: chatChannelID, Name: "Yelena AI", Slug: "yelena_ai", Aliases: []string{"Yelena"}, IsActive: true, IsDefault: true},
		{ID: storeChannelID, Name: "Loja Centro", Slug: "loja_centro", IsActive: true},
	}}
}

type fakeInstances struct {
	instances map[string]entities.Instance
}

func (f *fakeInstances) GetInstance(ctx context.Context, id string) (*entities.Instance, error) {
	inst, ok := f.instances[id]
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

func testInstances() *fakeInstances {
	return &fakeInstances{instances: map[string]entities.Instance{
		"i-1": {ID: "i-1", Name: "inst-1", Endpoint: "http://gateway.local/", APIKey: "key-one-1234"},
		"i-2": {ID: "i-2", Name: "inst-2", Endpoint: "http://gateway.local", APIKey: "key-two-5678"},
	}}
}

// fakeMappings keeps one row per channel, like the unique index in Postgres.
type fakeMappings struct {
	mu     sync.Mutex
	rows   map[string]entities.InstanceMapping
	states map[string]entities.ConnectionState
	seq    int
}

func newFakeMappings() *fakeMappings {
	return &fakeMappings{rows: make(map[string]entities.InstanceMapping), states: make(map[string]entities.ConnectionState)}
}

func (f *fakeMappings) UpsertMapping(ctx context.Context, m entities.InstanceMapping) (*entities.InstanceMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.rows[m.ChannelID]; ok {
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
	} else {
		f.seq++
		m.ID = fmt.Sprintf("m-%d", f.seq)
		m.CreatedAt = time.Now()
	}
	m.UpdatedAt = time.Now()
	f.rows[m.ChannelID] = m
	return &m, nil
}

func (f *fakeMappings) GetMappingByChannel(ctx context.Context, channelID string) (*entities.InstanceMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[channelID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeMappings) ListMappings(ctx context.Context) ([]entities.InstanceMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entities.InstanceMapping, 0, len(f.rows))
	for _, m := range f.rows {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (f *fakeMappings) DeactivateMapping(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[channelID]
	if !ok {
		return entities.ErrNoInstanceConfigured
	}
	m.IsActive = false
	f.rows[channelID] = m
	return nil
}

func (f *fakeMappings) UpdateConnectionState(ctx context.Context, instanceName string, state entities.ConnectionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[instanceName] = state
	return nil
}

// fakeGateway scripts gateway answers and counts calls.
type fakeGateway struct {
	mu        sync.Mutex
	state     entities.ConnectionState
	stateErr  error
	handle    *entities.PairingHandle
	webhook   *entities.WebhookConfig
	hookErr   error
	sendErr   error
	calls     map[string]int
	lastRef   entities.InstanceRef
	lastMedia entities.OutboundRequest
	lastText  string
}

func newFakeGateway(state entities.ConnectionState) *fakeGateway {
	return &fakeGateway{state: state, calls: make(map[string]int)}
}

func (g *fakeGateway) record(name string, ref entities.InstanceRef) {
	g.calls[name]++
	g.lastRef = ref
}

func (g *fakeGateway) Calls(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

func (g *fakeGateway) SetState(s entities.ConnectionState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = s
}

func (g *fakeGateway) ConnectionState(ctx context.Context, ref entities.InstanceRef) (entities.ConnectionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("state", ref)
	if g.stateErr != nil {
		return entities.StateDisconnected, g.stateErr
	}
	return g.state, nil
}

func (g *fakeGateway) Connect(ctx context.Context, ref entities.InstanceRef) (*entities.PairingHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("connect", ref)
	if g.handle == nil {
		return &entities.PairingHandle{State: entities.StateConnecting, Code: "2@qr-payload"}, nil
	}
	return g.handle, nil
}

func (g *fakeGateway) Restart(ctx context.Context, ref entities.InstanceRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("restart", ref)
	return nil
}

func (g *fakeGateway) Logout(ctx context.Context, ref entities.InstanceRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("logout", ref)
	g.state = entities.StateDisconnected
	return nil
}

func (g *fakeGateway) DeleteInstance(ctx context.Context, ref entities.InstanceRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("delete", ref)
	return nil
}

func (g *fakeGateway) SetWebhook(ctx context.Context, ref entities.InstanceRef, cfg entities.WebhookConfig) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("set_webhook", ref)
	if g.hookErr != nil {
		return g.hookErr
	}
	c := cfg
	g.webhook = &c
	return nil
}

func (g *fakeGateway) FindWebhook(ctx context.Context, ref entities.InstanceRef) (*entities.WebhookConfig, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("find_webhook", ref)
	return g.webhook, nil
}

func (g *fakeGateway) SendText(ctx context.Context, ref entities.InstanceRef, number, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("send_text", ref)
	g.lastText = text
	return g.sendErr
}

func (g *fakeGateway) SendMedia(ctx context.Context, ref entities.InstanceRef, number string, req entities.OutboundRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("send_media", ref)
	g.lastMedia = req
	return g.sendErr
}

// gatewayDispatcher mirrors the direct dispatcher without importing infrastructure.
type gatewayDispatcher struct {
	gw   *fakeGateway
	sent []entities.OutboundRequest
	mu   sync.Mutex
}

func (d *gatewayDispatcher) Dispatch(ctx context.Context, req entities.OutboundRequest) error {
	d.mu.Lock()
	d.sent = append(d.sent, req)
	d.mu.Unlock()
	if req.MessageType.IsMedia() {
		return d.gw.SendMedia(ctx, req.Instance, req.PhoneNumber, req)
	}
	return d.gw.SendText(ctx, req.Instance, req.PhoneNumber, req.Content)
}

func (d *gatewayDispatcher) Sent() []entities.OutboundRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]entities.OutboundRequest(nil), d.sent...)
}

// fakeTables is both the table registry and the conversation store.
type fakeTables struct {
	mu       sync.Mutex
	registry map[string]string
	rows     map[string][]entities.Message
	seq      int64
	writeErr error
}

func newFakeTables(registry map[string]string) *fakeTables {
	if registry == nil {
		registry = make(map[string]string)
	}
	return &fakeTables{registry: registry, rows: make(map[string][]entities.Message)}
}

func (f *fakeTables) ListChannelTables(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.registry))
	for k, v := range f.registry {
		out[k] = v
	}
	return out, nil
}

func (f *fakeTables) EnsureChannelTable(ctx context.Context, channelID, tableName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry[channelID] = tableName
	return tableName, nil
}

func (f *fakeTables) WriteMessage(ctx context.Context, table string, msg entities.Message) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.seq++
	msg.ID = f.seq
	f.rows[table] = append(f.rows[table], msg)
	return msg.ID, nil
}

func (f *fakeTables) ListMessages(ctx context.Context, table, sessionID string, limit int) ([]entities.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Message
	for _, m := range f.rows[table] {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeTables) MarkRead(ctx context.Context, table, sessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i, m := range f.rows[table] {
		if m.SessionID == sessionID && !m.Read {
			f.rows[table][i].Read = true
			n++
		}
	}
	return n, nil
}

func (f *fakeTables) ListInlineMedia(ctx context.Context, table string, limit int) ([]entities.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Message
	for _, m := range f.rows[table] {
		if _, _, ok := ParseDataURI(m.Body); ok && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeTables) ReplaceBody(ctx context.Context, table string, id int64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.rows[table] {
		if m.ID == id {
			f.rows[table][i].Body = body
			return nil
		}
	}
	return fmt.Errorf("row %d not found", id)
}

func (f *fakeTables) Rows(table string) []entities.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entities.Message(nil), f.rows[table]...)
}

type fakeStorage struct {
	objects map[string][]byte
}

func (s *fakeStorage) Put(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = data
	return "https://media.example.com/media/" + key, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Notify(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *fakeNotifier) Texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }
