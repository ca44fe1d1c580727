package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/graytap-core/internal/infrastructure/config"
)

const (
	connectTimeout   = 10 * time.Second
	operationTimeout = 5 * time.Second
	keepAlive        = 60 * time.Second

	// disconnectQuiesce is how long Disconnect waits for in-flight work, in ms.
	disconnectQuiesce = 1000

	maxQoS = 2
)


// buildClientOptions maps cfg onto paho options. Sessions are clean;
// subscriptions are replayed by the client itself after reconnect.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

// brokerURL formats the broker address with a scheme matching the TLS setting.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// statusPayload is the retained body of the system status topic.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes the will, retained at QoS 1, if the engine drops
// off the network without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetWill(topics.SystemStatus(), string(buildStatusPayload(clientID, "offline", "unexpected_disconnect")), 1, true)
}

// buildStatusPayload encodes a system status message.
func buildStatusPayload(clientID, status, reason string) []byte {
	data, err := json.Marshal(statusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return []byte(`{"status":"` + status + `"}`)
	}
	return data
}
