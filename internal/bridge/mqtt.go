package bridge

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/joshp123/rointe-golang/internal/config"
	"github.com/joshp123/rointe-golang/rointe"
)

// Publisher mirrors device state onto MQTT and accepts setpoint commands.
// State goes to <topic>/<device>/state as retained JSON; commands arrive on
// <topic>/<device>/set/temp with the bare temperature as payload.
type Publisher struct {
	client mqtt.Client
	topic  string
	log    *zap.SugaredLogger
}

func NewPublisher(cfg config.MQTT, log *zap.SugaredLogger) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(randomClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	return &Publisher{client: client, topic: cfg.Topic, log: log}, nil
}

type deviceState struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Power         bool    `json:"power"`
	Mode          string  `json:"mode"`
	Preset        string  `json:"preset"`
	Temp          float64 `json:"temp"`
	TempProbe     float64 `json:"temp_probe"`
	TargetTemp    float64 `json:"target_temp"`
	HeatingAction string  `json:"heating_action"`
	EnergyKWh     float64 `json:"energy_kwh,omitempty"`
}

func (p *Publisher) PublishState(d *rointe.Device) error {
	now := time.Now()
	state := deviceState{
		ID:            d.ID,
		Name:          d.Name,
		Type:          d.Type,
		Power:         d.Power,
		Mode:          d.Mode,
		Preset:        d.Preset,
		Temp:          d.Temp,
		TempProbe:     d.TempProbe,
		TargetTemp:    d.EffectiveTargetTemp(now),
		HeatingAction: d.HeatingAction(now).String(),
	}
	if d.Energy != nil {
		state.EnergyKWh = d.Energy.KWh
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	topic := p.topic + "/" + d.ID + "/state"
	if token := p.client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, token.Error())
	}
	return nil
}

// SubscribeCommands registers the setpoint command handler. Malformed
// payloads are logged and dropped.
func (p *Publisher) SubscribeCommands(handler func(deviceID string, temp float64)) error {
	topic := p.topic + "/+/set/temp"
	token := p.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		parts := strings.Split(msg.Topic(), "/")
		if len(parts) < 4 {
			return
		}
		deviceID := parts[len(parts)-3]

		temp, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
		if err != nil {
			p.log.Warnw("bad temperature command", "topic", msg.Topic(), "payload", string(msg.Payload()))
			return
		}
		handler(deviceID, temp)
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, token.Error())
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func randomClientID() string {
	buf := make([]byte, 9)
	_, _ = rand.Read(buf)
	return "rointe-bridge-" + base64.RawURLEncoding.EncodeToString(buf)
}
