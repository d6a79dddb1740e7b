package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/zitlem/DMXX-sub001/internal/logger"
)

// MQTTConf configures the optional broker bridge.
type MQTTConf struct {
	ClientID    string // ClientID - unique client name for the broker.
	Schema      string // Schema - connection scheme, usually "tcp".
	Host        string // Host - broker address.
	Port        string // Port - broker port.
	User        string // User - broker login.
	Password    string // Password - broker password.
	TopicPrefix string // TopicPrefix - leading topic segment, e.g. "dmx".
	Qos         byte   // Qos - quality of service for published updates.
}

// Bridge republishes bus updates to an MQTT broker so remote monitor
// consumers can follow the pipeline without a direct subscription.
type Bridge struct {
	ctx    context.Context
	log    logger.Logger
	cfg    MQTTConf
	bus    *Bus
	client mqtt.Client
	opts   *mqtt.ClientOptions
	subID  string
	ch     chan Update
}

type payload struct {
	Universe string `json:"universe"`
	Kind     Kind   `json:"kind"`
	Seq      uint64 `json:"seq"`
	Data     []byte `json:"data"`
}

// NewBridge wires a bridge to the given bus.
func NewBridge(log logger.Logger, cfg MQTTConf, bus *Bus) *Bridge {
	return &Bridge{
		log: log,
		cfg: cfg,
		bus: bus,
		ch:  make(chan Update, 64),
	}
}

func (b *Bridge) Start(ctx context.Context) error {
	if b.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	b.ctx = ctx

	b.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", b.cfg.Schema, b.cfg.Host, b.cfg.Port)).
		SetUsername(b.cfg.User).
		SetPassword(b.cfg.Password).
		SetOnConnectHandler(b.connectHandler).
		SetConnectionLostHandler(b.connectLostHandler).
		SetClientID(b.cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	b.client = mqtt.NewClient(b.opts)

	token := b.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-b.ctx.Done():
		return errors.New("context canceled")
	}

	id, err := b.bus.Subscribe("mqtt-bridge", "", b.ch)
	if err != nil {
		b.client.Disconnect(0)
		return fmt.Errorf("failed to subscribe bridge to bus: %w", err)
	}
	b.subID = id

	go b.pump()

	b.log.With(logger.Fields{"module": "mqtt"}).Infof("Status: %v", b.client.IsConnected())
	return nil
}

func (b *Bridge) Stop() error {
	if b.subID != "" {
		_ = b.bus.Unsubscribe(b.subID)
		b.subID = ""
	}
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(500)
	}
	return nil
}

func (b *Bridge) pump() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case u := <-b.ch:
			b.publish(u)
		}
	}
}

func (b *Bridge) publish(u Update) {
	msg, err := json.Marshal(payload{
		Universe: u.Universe,
		Kind:     u.Kind,
		Seq:      u.Seq,
		Data:     u.Data[:],
	})
	if err != nil {
		b.log.With(logger.Fields{"module": "mqtt"}).Errorf("update could not be encoded: %v", err)
		return
	}

	topic := fmt.Sprintf("%s/%s/%s", b.cfg.TopicPrefix, u.Universe, u.Kind)
	token := b.client.Publish(topic, b.cfg.Qos, false, msg)
	go func() {
		select {
		case <-b.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				b.log.With(logger.Fields{"module": "mqtt"}).Errorf("error publish topic %s. %v\n", topic, token.Error())
			}
		}
	}()
}

func (b *Bridge) connectHandler(_ mqtt.Client) {
	b.log.With(logger.Fields{"module": "mqtt"}).Info("client connected to server")
}

func (b *Bridge) connectLostHandler(_ mqtt.Client, err error) {
	b.log.With(logger.Fields{"module": "mqtt"}).Errorf("server connect lost: %v\n", err)
}
