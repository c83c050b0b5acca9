package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-conduit/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second

	// disconnectQuiesceMs gives in-flight tokens a moment to settle
	// before Close tears the link down.
	disconnectQuiesceMs = 1000

	// keepAlive drives broker-side dead connection detection.
	keepAlive = 60 * time.Second

	maxQoS = 2
)

// buildClientOptions maps the mqtt section of config.yaml onto paho
// options. Reconnection is delegated to paho: connect retry with the
// configured initial delay, backing off to the configured maximum.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Fresh session each boot. Conduit republishes retained state after
	// connecting, so a persistent broker session buys nothing.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	return opts
}

// setWill installs the last-will message the broker publishes if
// Conduit drops off without a graceful Close. Retained at QoS 1 so a
// dashboard subscribing later still sees the outage.
func setWill(opts *pahomqtt.ClientOptions, clientID string) {
	opts.SetWill(Topics{}.SystemStatus(),
		string(statusPayload(clientID, "offline", "unexpected_disconnect")), 1, true)
}

// statusPayload renders the conduit/system/status JSON body. reason is
// omitted for online announcements.
func statusPayload(clientID, status, reason string) []byte {
	body := map[string]string{
		"status":    status,
		"client_id": clientID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if reason != "" {
		body["reason"] = reason
	}
	payload, _ := json.Marshal(body) //nolint:errcheck // map of strings cannot fail
	return payload
}
