package accessory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/echonet-heatercooler/internal/heatercooler"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/mqtt"
)

// MQTT command names.
const (
	CommandSetPower            = "set_power"
	CommandSetMode             = "set_mode"
	CommandSetHeatingThreshold = "set_heating_threshold"
	CommandSetCoolingThreshold = "set_cooling_threshold"
	CommandSetSwing            = "set_swing"
	CommandRefresh             = "refresh"
)

// Ack statuses.
const (
	AckAccepted = "accepted"
	AckFailed   = "failed"
)

// Broker is the MQTT surface the adapter needs. *mqtt.Client satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// CommandMessage is the payload accepted on <prefix>/command/<id>.
type CommandMessage struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// AckMessage is published on <prefix>/ack/<id> for every command.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Command   string    `json:"command"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type attached struct {
	name      string
	appliance Appliance
}

// MQTTAdapter publishes retained appliance state and executes commands.
//
// State is published from the adapter queue, so a slow broker never holds
// up the controller. Commands go through the same setters HomeKit uses and
// are acknowledged once applied locally, before the device write.
type MQTTAdapter struct {
	broker Broker
	topics mqtt.Topics
	qos    byte
	logger Logger
	queue  *queue

	mu         sync.RWMutex
	appliances map[string]attached
	ctx        context.Context
	wg         sync.WaitGroup

	now func() time.Time
}

// NewMQTTAdapter creates an adapter publishing under topics.
func NewMQTTAdapter(broker Broker, topics mqtt.Topics, qos byte, logger Logger) *MQTTAdapter {
	return &MQTTAdapter{
		broker:     broker,
		topics:     topics,
		qos:        qos,
		logger:     logger,
		queue:      newQueue("mqtt", defaultQueueSize, logger),
		appliances: make(map[string]attached),
		ctx:        context.Background(),
		now:        time.Now,
	}
}

// Start subscribes to every accessory's command topic and runs the publish
// queue until ctx is cancelled.
func (m *MQTTAdapter) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	if err := m.broker.Subscribe(m.topics.AllCommands(), m.qos, m.HandleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.queue.run(ctx)
		m.queue.drain()
	}()
	return nil
}

// Wait blocks until the publish queue and any running refresh commands
// have finished.
func (m *MQTTAdapter) Wait() {
	m.wg.Wait()
}

// Attach publishes the appliance's current state and every later change.
func (m *MQTTAdapter) Attach(id string, app Appliance) {
	m.mu.Lock()
	m.appliances[id] = attached{name: app.Name(), appliance: app}
	m.mu.Unlock()

	snap := app.Snapshot()
	m.queue.push(func() { m.publishState(id, app.Name(), snap, "attach") })

	app.OnChange(func(u heatercooler.Update) {
		m.queue.push(func() { m.publishState(id, app.Name(), u.State, u.Source) })
	})
}

func (m *MQTTAdapter) publishState(id, name string, s heatercooler.State, source string) {
	payload, err := json.Marshal(NewStateView(id, name, s, source, m.now()))
	if err != nil {
		m.logError("encoding state", "accessory_id", id, "error", err)
		return
	}
	if err := m.broker.Publish(m.topics.State(id), payload, m.qos, true); err != nil {
		m.logWarn("publishing state failed", "accessory_id", id, "error", err)
	}
}

// HandleCommand executes one command message. It matches
// mqtt.MessageHandler so it can be subscribed directly.
//
// An ack is always published when the accessory ID can be read from the
// topic; the returned error only reaches the client's log.
func (m *MQTTAdapter) HandleCommand(topic string, payload []byte) error {
	id := m.topics.AccessoryID("command", topic)
	if id == "" {
		return fmt.Errorf("%w: topic %s", ErrNotFound, topic)
	}

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		m.ack(id, CommandMessage{ID: uuid.NewString()}, err)
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	err := m.execute(id, msg)
	m.ack(id, msg, err)
	return err
}

func (m *MQTTAdapter) execute(id string, msg CommandMessage) error {
	m.mu.RLock()
	a, ok := m.appliances[id]
	ctx := m.ctx
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if msg.Command == CommandRefresh {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			a.appliance.Refresh(ctx)
		}()
		return nil
	}

	change, err := commandChange(msg)
	if err != nil {
		return err
	}
	m.logInfo("mqtt command", "accessory_id", id, "command", msg.Command, "command_id", msg.ID)
	return change.Apply(a.appliance)
}

// commandChange decodes a set_* command into the equivalent Change.
func commandChange(msg CommandMessage) (Change, error) {
	var c Change
	var target any
	switch msg.Command {
	case CommandSetPower:
		target = &c.Power
	case CommandSetMode:
		target = &c.Mode
	case CommandSetHeatingThreshold:
		target = &c.HeatingThreshold
	case CommandSetCoolingThreshold:
		target = &c.CoolingThreshold
	case CommandSetSwing:
		target = &c.Swing
	default:
		return c, fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Command)
	}

	if len(msg.Value) == 0 {
		return c, fmt.Errorf("%w: %s needs a value", ErrInvalidCommand, msg.Command)
	}
	if err := json.Unmarshal(msg.Value, target); err != nil {
		return c, fmt.Errorf("%w: %s: %w", ErrInvalidCommand, msg.Command, err)
	}
	if c.Empty() {
		return c, fmt.Errorf("%w: %s needs a value", ErrInvalidCommand, msg.Command)
	}
	return c, nil
}

func (m *MQTTAdapter) ack(id string, msg CommandMessage, cmdErr error) {
	a := AckMessage{
		CommandID: msg.ID,
		Command:   msg.Command,
		Status:    AckAccepted,
		Timestamp: m.now().UTC(),
	}
	if cmdErr != nil {
		a.Status = AckFailed
		a.Error = cmdErr.Error()
	}

	payload, err := json.Marshal(a)
	if err != nil {
		m.logError("encoding ack", "accessory_id", id, "error", err)
		return
	}
	if err := m.broker.Publish(m.topics.Ack(id), payload, m.qos, false); err != nil {
		m.logWarn("publishing ack failed", "accessory_id", id, "error", err)
	}
}

// PublishHealth publishes v as the retained bridge health.
func (m *MQTTAdapter) PublishHealth(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding health: %w", err)
	}
	if err := m.broker.Publish(m.topics.Health(), payload, m.qos, true); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return nil
		}
		return fmt.Errorf("publishing health: %w", err)
	}
	return nil
}

func (m *MQTTAdapter) logInfo(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Info(msg, keysAndValues...)
	}
}

func (m *MQTTAdapter) logWarn(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, keysAndValues...)
	}
}

func (m *MQTTAdapter) logError(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Error(msg, keysAndValues...)
	}
}
