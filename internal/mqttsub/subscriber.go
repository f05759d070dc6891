package mqttsub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// KickFunc is called when a sync message arrives; wired to Syncer.Kick.
type KickFunc func()

// Subscriber wires an MQTT client to the agent's three per-device topics:
// it subscribes to sync and ping, and publishes pongs, per spec.md §4.5.
type Subscriber struct {
	deviceID string
	client   mqtt.Client
	kick     KickFunc
}

// New connects to brokerURL and wires the per-device topic handlers.
// kick is invoked whenever a sync message arrives.
func New(brokerURL, deviceID string, kick KickFunc) (*Subscriber, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(fmt.Sprintf("miru-agent-%s", deviceID)).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	s := &Subscriber{deviceID: deviceID, kick: kick}
	opts.SetDefaultPublishHandler(s.handleMessage)

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttsub: connect: %w", token.Error())
	}

	if err := s.subscribe(SyncTopic(deviceID)); err != nil {
		return nil, err
	}
	if err := s.subscribe(PingTopic(deviceID)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Subscriber) subscribe(topic string) error {
	token := s.client.Subscribe(topic, 1, nil)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttsub: subscribe %s: %w", topic, token.Error())
	}
	return nil
}

func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	switch ParseSubscription(s.deviceID, msg.Topic()) {
	case TopicSync:
		var payload SyncPayload
		if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
			log.Printf("[mqttsub] unparseable sync payload: %v", err)
			return
		}
		if s.kick != nil {
			s.kick()
		}
	case TopicPing:
		s.publishPong()
	default:
		log.Printf("[mqttsub] dropped message on unknown topic %s", msg.Topic())
	}
}

func (s *Subscriber) publishPong() {
	payload, err := json.Marshal(PongPayload{DeviceID: s.deviceID})
	if err != nil {
		log.Printf("[mqttsub] marshal pong: %v", err)
		return
	}
	// QoS 1 (at least once), retained, per spec.md §6.
	token := s.client.Publish(PongTopic(s.deviceID), 1, true, payload)
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			log.Printf("[mqttsub] publish pong: %v", token.Error())
		}
	}()
}

// Close disconnects the underlying MQTT client.
func (s *Subscriber) Close() {
	s.client.Disconnect(250)
}
