package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"project_atendimento/internal/entities"
	"project_atendimento/internal/interfaces"
)

// ConnectOutcome is the single tri-state answer of Connect.
type ConnectOutcome string

const (
	OutcomeConnected    ConnectOutcome = "connected"
	OutcomeNeedsPairing ConnectOutcome = "needs_pairing"
	OutcomeFailed       ConnectOutcome = "failed"
)

type ConnectResult struct {
	Outcome     ConnectOutcome `json:"outcome"`
	QRCode      string         `json:"qr_code,omitempty"`
	Code        string         `json:"code,omitempty"`
	PairingCode string         `json:"pairing_code,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Poll stop reasons.
const (
	PollConnected = "connected"
	PollCancelled = "cancelled"
	PollTimeout   = "timeout"
)

// PollHandle controls one background poll. Cancel is safe to call more than once.
type PollHandle struct {
	Instance string

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  entities.ConnectionState
	reason string
}

func (h *PollHandle) Cancel() { h.cancel() }

// Done is closed once the poll goroutine has exited and its ticker is stopped.
func (h *PollHandle) Done() <-chan struct{} { return h.done }

// Result returns the last observed state and why the poll stopped (empty while running).
func (h *PollHandle) Result() (entities.ConnectionState, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.reason
}

func (h *PollHandle) finish(state entities.ConnectionState, reason string) {
	h.mu.Lock()
	h.state = state
	h.reason = reason
	h.mu.Unlock()
}

// WebhookSettings describes the webhook every instance should carry.
type WebhookSettings struct {
	BaseURL string // public base of this service; channel id is appended
	Events  []string
}

// DriftReport compares a gateway's webhook registration with the expected one.
type DriftReport struct {
	InSync      bool                    `json:"in_sync"`
	Expected    entities.WebhookConfig  `json:"expected"`
	Actual      *entities.WebhookConfig `json:"actual,omitempty"`
	Differences []string                `json:"differences,omitempty"`
	Code        string                  `json:"code,omitempty"`
}

// ConnectionLifecycle drives per-instance connection state and webhook setup.
type ConnectionLifecycle struct {
	gateway  interfaces.Gateway
	mappings interfaces.MappingStore
	notifier interfaces.Notifier
	states   *Cache[string, entities.ConnectionState]
	webhook  WebhookSettings
	logger   *slog.Logger

	mu    sync.Mutex
	polls map[string]*PollHandle
}

// NewConnectionLifecycle wires the lifecycle. mappings and notifier may be nil.
func NewConnectionLifecycle(gateway interfaces.Gateway, mappings interfaces.MappingStore, notifier interfaces.Notifier, states *Cache[string, entities.ConnectionState], webhook WebhookSettings, logger *slog.Logger) *ConnectionLifecycle {
	if states == nil {
		states = NewCache[string, entities.ConnectionState](30 * time.Second)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionLifecycle{
		gateway:  gateway,
		mappings: mappings,
		notifier: notifier,
		states:   states,
		webhook:  webhook,
		logger:   logger.With(slog.String("component", "connection_lifecycle")),
		polls:    make(map[string]*PollHandle),
	}
}

func (l *ConnectionLifecycle) refAttrs(ref entities.InstanceRef) []any {
	return []any{
		slog.String("instance", ref.Name),
		slog.String("endpoint", ref.BaseURL()),
		slog.String("api_key", entities.MaskSecret(ref.APIKey)),
	}
}

// State returns the cached state, probing the gateway on a miss.
func (l *ConnectionLifecycle) State(ctx context.Context, ref entities.InstanceRef) entities.ConnectionState {
	if s, ok := l.states.Get(ref.Name); ok {
		return s
	}
	return l.Probe(ctx, ref)
}

// Probe asks the gateway for the current state. Any failure reads as
// disconnected, except when ctx itself ended: then nothing is recorded and
// the last known state is returned.
func (l *ConnectionLifecycle) Probe(ctx context.Context, ref entities.InstanceRef) entities.ConnectionState {
	state, err := l.gateway.ConnectionState(ctx, ref)
	if err != nil && ctx.Err() != nil {
		if s, ok := l.states.Get(ref.Name); ok {
			return s
		}
		return entities.StateDisconnected
	}
	if err != nil {
		l.logger.Warn("connection state probe failed", append(l.refAttrs(ref), slog.Any("error", err))...)
		state = entities.StateDisconnected
	}
	l.setState(ctx, ref.Name, state)
	return state
}

// ObserveState applies a state pushed by the gateway (connection.update).
func (l *ConnectionLifecycle) ObserveState(ctx context.Context, instanceName, raw string) entities.ConnectionState {
	state := entities.ParseGatewayState(raw)
	l.setState(ctx, instanceName, state)
	return state
}

func (l *ConnectionLifecycle) setState(ctx context.Context, instance string, state entities.ConnectionState) {
	prev, had := l.states.Get(instance)
	l.states.Set(instance, state)
	if had && prev == state {
		return
	}
	l.logger.Info("connection state changed",
		slog.String("instance", instance),
		slog.String("from", string(prev)),
		slog.String("to", string(state)))
	if l.mappings == nil {
		return
	}
	if err := l.mappings.UpdateConnectionState(ctx, instance, state); err != nil {
		l.logger.Warn("failed to record connection state", slog.String("instance", instance), slog.Any("error", err))
	}
}

// EnsureConnected gates delivery. With repair set, a non-connected instance
// gets one restart and one fresh probe before giving up.
func (l *ConnectionLifecycle) EnsureConnected(ctx context.Context, ref entities.InstanceRef, repair bool) error {
	state := l.State(ctx, ref)
	if state == entities.StateConnected {
		return nil
	}
	if repair {
		l.logger.Info("instance not connected, restarting", l.refAttrs(ref)...)
		if err := l.Restart(ctx, ref); err != nil {
			l.logger.Warn("restart before send failed", append(l.refAttrs(ref), slog.Any("error", err))...)
		}
		if state = l.Probe(ctx, ref); state == entities.StateConnected {
			return nil
		}
	}
	return fmt.Errorf("%w: instance %s is %s", entities.ErrInstanceUnreachable, ref.Name, state)
}

// Connect requests a pairing handle. An instance that is already open
// short-circuits to connected without a code.
func (l *ConnectionLifecycle) Connect(ctx context.Context, ref entities.InstanceRef) ConnectResult {
	if l.Probe(ctx, ref) == entities.StateConnected {
		return ConnectResult{Outcome: OutcomeConnected}
	}

	handle, err := l.gateway.Connect(ctx, ref)
	if err != nil {
		l.logger.Error("connect request failed", append(l.refAttrs(ref), slog.Any("error", err))...)
		return ConnectResult{Outcome: OutcomeFailed, Error: err.Error()}
	}
	if handle.State == entities.StateConnected {
		l.setState(ctx, ref.Name, entities.StateConnected)
		return ConnectResult{Outcome: OutcomeConnected}
	}
	if handle.QRCode == "" && handle.Code == "" && handle.PairingCode == "" {
		return ConnectResult{Outcome: OutcomeFailed, Error: "gateway returned no pairing code"}
	}

	l.setState(ctx, ref.Name, entities.StateConnecting)
	return ConnectResult{
		Outcome:     OutcomeNeedsPairing,
		QRCode:      handle.QRCode,
		Code:        handle.Code,
		PairingCode: handle.PairingCode,
	}
}

// PollUntilConnected probes every interval until the instance is connected,
// the handle is cancelled or timeout elapses. A running poll for the same
// instance is cancelled and replaced.
func (l *ConnectionLifecycle) PollUntilConnected(ref entities.InstanceRef, interval, timeout time.Duration) *PollHandle {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	h := &PollHandle{Instance: ref.Name, cancel: cancel, done: make(chan struct{})}

	l.mu.Lock()
	if old, ok := l.polls[ref.Name]; ok {
		old.Cancel()
	}
	l.polls[ref.Name] = h
	l.mu.Unlock()

	go l.runPoll(ctx, ref, h, interval)
	return h
}

func (l *ConnectionLifecycle) runPoll(ctx context.Context, ref entities.InstanceRef, h *PollHandle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		h.cancel()
		l.mu.Lock()
		if l.polls[ref.Name] == h {
			delete(l.polls, ref.Name)
		}
		l.mu.Unlock()
		close(h.done)
	}()

	state := entities.StateConnecting
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				h.finish(state, PollTimeout)
				l.logger.Warn("pairing poll timed out", l.refAttrs(ref)...)
				l.alert(fmt.Sprintf("Instance %s did not connect before the pairing timeout", ref.Name))
				return
			}
			h.finish(state, PollCancelled)
			return
		case <-ticker.C:
			state = l.Probe(ctx, ref)
			if state == entities.StateConnected {
				h.finish(state, PollConnected)
				return
			}
		}
	}
}

// CancelPoll stops the poll for instance, if any.
func (l *ConnectionLifecycle) CancelPoll(instance string) bool {
	l.mu.Lock()
	h, ok := l.polls[instance]
	l.mu.Unlock()
	if ok {
		h.Cancel()
	}
	return ok
}

// ActivePolls lists the instances with a running poll.
func (l *ConnectionLifecycle) ActivePolls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.polls))
	for name := range l.polls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Restart asks the gateway to restart the session.
func (l *ConnectionLifecycle) Restart(ctx context.Context, ref entities.InstanceRef) error {
	if err := l.gateway.Restart(ctx, ref); err != nil {
		return err
	}
	l.setState(ctx, ref.Name, entities.StateConnecting)
	return nil
}

// Logout ends the session and forces the cached state to disconnected.
func (l *ConnectionLifecycle) Logout(ctx context.Context, ref entities.InstanceRef) error {
	if err := l.gateway.Logout(ctx, ref); err != nil {
		return err
	}
	l.CancelPoll(ref.Name)
	l.setState(ctx, ref.Name, entities.StateDisconnected)
	return nil
}

// DeleteInstance removes the gateway-side instance.
func (l *ConnectionLifecycle) DeleteInstance(ctx context.Context, ref entities.InstanceRef) error {
	if err := l.gateway.DeleteInstance(ctx, ref); err != nil {
		return err
	}
	l.CancelPoll(ref.Name)
	l.states.Delete(ref.Name)
	return nil
}

// ExpectedWebhook is the registration every instance bound to channelID should have.
func (l *ConnectionLifecycle) ExpectedWebhook(channelID string) entities.WebhookConfig {
	return entities.WebhookConfig{
		Enabled: true,
		URL:     strings.TrimRight(l.webhook.BaseURL, "/") + "/webhook/gateway/" + channelID,
		Events:  append([]string(nil), l.webhook.Events...),
	}
}

// SetWebhook registers cfg on the gateway. Repeating it is harmless.
func (l *ConnectionLifecycle) SetWebhook(ctx context.Context, ref entities.InstanceRef, cfg entities.WebhookConfig) error {
	if err := l.gateway.SetWebhook(ctx, ref, cfg); err != nil {
		return err
	}
	l.logger.Info("webhook configured", append(l.refAttrs(ref), slog.String("url", cfg.URL))...)
	return nil
}

func (l *ConnectionLifecycle) GetWebhook(ctx context.Context, ref entities.InstanceRef) (*entities.WebhookConfig, error) {
	return l.gateway.FindWebhook(ctx, ref)
}

// CheckWebhook reports drift between the gateway registration and expected.
// Drift is only reported; RepairWebhook must be called to correct it.
func (l *ConnectionLifecycle) CheckWebhook(ctx context.Context, ref entities.InstanceRef, expected entities.WebhookConfig) (DriftReport, error) {
	actual, err := l.GetWebhook(ctx, ref)
	if err != nil {
		return DriftReport{}, err
	}
	report := DriftReport{Expected: expected, Actual: actual}
	report.Differences = webhookDifferences(expected, actual)
	report.InSync = len(report.Differences) == 0
	if !report.InSync {
		report.Code = entities.CodeConfigurationDrift
		l.logger.Warn("webhook drift detected", append(l.refAttrs(ref), slog.Any("differences", report.Differences))...)
		l.alert(fmt.Sprintf("Webhook drift on instance %s: %s", ref.Name, strings.Join(report.Differences, "; ")))
	}
	return report, nil
}

// RepairWebhook re-applies the expected registration.
func (l *ConnectionLifecycle) RepairWebhook(ctx context.Context, ref entities.InstanceRef, expected entities.WebhookConfig) error {
	return l.SetWebhook(ctx, ref, expected)
}

func webhookDifferences(expected entities.WebhookConfig, actual *entities.WebhookConfig) []string {
	if actual == nil {
		return []string{"webhook not configured"}
	}
	var diffs []string
	if !actual.Enabled {
		diffs = append(diffs, "webhook disabled")
	}
	if strings.TrimRight(actual.URL, "/") != strings.TrimRight(expected.URL, "/") {
		diffs = append(diffs, fmt.Sprintf("url is %q, expected %q", actual.URL, expected.URL))
	}
	have := make(map[string]bool, len(actual.Events))
	for _, e := range actual.Events {
		have[normalizeEvent(e)] = true
	}
	for _, e := range expected.Events {
		if !have[normalizeEvent(e)] {
			diffs = append(diffs, "missing event "+e)
		}
	}
	return diffs
}

// normalizeEvent treats MESSAGES_UPSERT and messages.upsert as the same event.
func normalizeEvent(e string) string {
	return strings.ToLower(strings.ReplaceAll(e, "_", "."))
}

func (l *ConnectionLifecycle) alert(text string) {
	if l.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.notifier.Notify(ctx, text); err != nil {
		l.logger.Warn("failed to send alert", slog.Any("error", err))
	}
}
