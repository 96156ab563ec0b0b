// Package telemetry publishes RCON session activity to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcond/internal/config"
	"github.com/energizer-project/rcond/internal/events"
	"github.com/energizer-project/rcond/internal/util"
)

// MQTT topics
const (
	TopicSession  = "rcon/session"
	TopicCommand  = "rcon/command"
	TopicSecurity = "rcon/security"
	TopicAdmin    = "rcon/admin"
)

const subscriberName = "mqtt"

// topicFor maps an event type to the topic it is published on.
func topicFor(t events.EventType) string {
	switch t {
	case events.EventCommandReceived:
		return TopicCommand
	case events.EventAuthFailed, events.EventProtocolViolation:
		return TopicSecurity
	case events.EventConfigChanged, events.EventShutdown:
		return TopicAdmin
	default:
		return TopicSession
	}
}

// MQTTHandler forwards bus events to an MQTT broker.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client

	// Included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler from the MQTT section of cfg. It does
// not connect until Start.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"rcon_port":   cfg.GetRCON().Port,
			"app_version": version,
		},
	}

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	clientID := mqttCfg.ClientID
	if clientID == "" {
		clientID = "rcond"
	}
	opts.SetClientID(fmt.Sprintf("%s-%s", clientID, sysInfo.Hostname))

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("component", "mqtt").Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Str("component", "mqtt").Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func buildTLSConfig(c config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS
	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Start connects to the broker, forwards events until ctx is cancelled,
// then publishes a shutdown notice and disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	subscribed := append([]events.EventType{events.EventConfigChanged}, events.SessionEvents...)
	h.eventBus.SubscribeAll(subscribed, subscriberName, h.onEvent)
	defer h.eventBus.UnsubscribeAll(subscribed, subscriberName)

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	h.publish(topicFor(event.Type), event)
	return nil
}

// publish sends a JSON message at QoS 1.
func (h *MQTTHandler) publish(topic string, event events.Event) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(event))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines host metadata with the event.
func (h *MQTTHandler) buildMessage(event events.Event) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+3)
	for k, v := range h.metadata {
		msg[k] = v
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg["event"] = event.Type
	msg["payload"] = event.Payload
	msg["timestamp"] = ts.UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown sends a shutdown notice on the admin topic.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, events.Event{Type: events.EventShutdown, Source: subscriberName, Timestamp: time.Now()})
}
