package main

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/TriageLedger/internal/relay"
)

// buildPublisher returns the configured relay publisher, nil for "none".
func buildPublisher(cfg *viper.Viper, logger *zap.Logger) (relay.Publisher, error) {
	switch kind := cfg.GetString("relay.publisher"); kind {
	case "", "none":
		return nil, nil

	case "kafka":
		brokers := cfg.GetStringSlice("relay.kafka_brokers")
		if len(brokers) == 0 {
			return nil, fmt.Errorf("relay.kafka_brokers is required for the kafka publisher")
		}
		topic := cfg.GetString("relay.kafka_topic")
		logger.Info("relaying audit events to kafka", zap.Strings("brokers", brokers), zap.String("topic", topic))
		return relay.NewKafkaPublisher(brokers, topic), nil

	case "amqp":
		queue := cfg.GetString("relay.amqp_queue")
		p, err := relay.DialAMQP(cfg.GetString("relay.amqp_url"), queue)
		if err != nil {
			return nil, err
		}
		logger.Info("relaying audit events to amqp", zap.String("queue", queue))
		return p, nil

	case "webhook":
		url := cfg.GetString("relay.webhook_url")
		if url == "" {
			return nil, fmt.Errorf("relay.webhook_url is required for the webhook publisher")
		}
		secret := cfg.GetString("relay.webhook_secret")
		if secret == "" {
			logger.Warn("relay.webhook_secret is empty; webhook signatures are forgeable")
		}
		logger.Info("relaying audit events to webhook", zap.String("url", url))
		return relay.NewWebhookPublisher(url, secret, logger), nil

	default:
		return nil, fmt.Errorf("unknown relay.publisher %q (want none, kafka, amqp or webhook)", kind)
	}
}
