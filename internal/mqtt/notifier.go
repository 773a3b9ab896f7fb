package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/jamesgiroux/dailyos-core/internal/config"
	"github.com/jamesgiroux/dailyos-core/internal/events"
)

// Notifier bridges the in-process event bus onto MQTT topics.
type Notifier struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	logger *slog.Logger

	mu sync.Mutex
	cm *autopaho.ConnectionManager
}

// NewNotifier creates a notifier. Call Run to connect and start
// forwarding events.
func NewNotifier(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{cfg: cfg, bus: bus, logger: logger}
}

// Run connects to the broker and forwards bus events until the context
// is canceled. Connection loss is handled by autopaho's reconnect loop;
// events published while disconnected are dropped (the bus is an
// observability channel, not a durable queue).
func (n *Notifier) Run(ctx context.Context) error {
	brokerURL, err := url.Parse(n.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse broker url: %w", err)
	}

	clientID := n.cfg.ClientID
	if clientID == "" {
		clientID = "dailyos-core"
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		WillMessage: &paho.WillMessage{
			Topic:   n.topic("availability"),
			QoS:     1,
			Retain:  true,
			Payload: []byte("offline"),
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			n.logger.Info("mqtt connected", "broker", n.cfg.BrokerURL)
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			_, err := cm.Publish(pubCtx, &paho.Publish{
				Topic:   n.topic("availability"),
				QoS:     1,
				Retain:  true,
				Payload: []byte("online"),
			})
			if err != nil {
				n.logger.Warn("availability publish failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			n.logger.Warn("mqtt connect error", "error", err)
		},
		ClientConfig: paho.ClientConfig{ClientID: clientID},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connection: %w", err)
	}
	n.mu.Lock()
	n.cm = cm
	n.mu.Unlock()

	ch := n.bus.Subscribe(64)
	defer n.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			n.forward(ctx, evt)
		}
	}
}

// forward maps one bus event onto its topic.
func (n *Notifier) forward(ctx context.Context, evt events.Event) {
	var topic string
	switch evt.Kind {
	case events.KindPrepReady:
		topic = n.topic("prep-ready/" + str(evt.Data["meeting_id"]))
	case events.KindWake:
		topic = n.topic("wake/" + str(evt.Data["poller"]))
	case events.KindHygieneReport:
		topic = n.topic("hygiene/report")
	default:
		return
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	n.mu.Lock()
	cm := n.cm
	n.mu.Unlock()
	if cm == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cm.Publish(pubCtx, &paho.Publish{
		Topic:   topic,
		QoS:     0,
		Payload: payload,
	}); err != nil {
		n.logger.Debug("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (n *Notifier) topic(suffix string) string {
	return n.cfg.TopicRoot + "/" + suffix
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
