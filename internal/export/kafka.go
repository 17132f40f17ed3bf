// Package export publishes telemetry to the fleet backend. Everything
// here is optional: the agent runs fully standalone when no brokers or
// object store are configured.
package export

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/start-point/phone-sentry/internal/models"
)

// KafkaExporter публикует heartbeat-ы и события в Kafka.
type KafkaExporter struct {
	producer       sarama.SyncProducer
	eventTopic     string
	heartbeatTopic string
}

// NewKafka создаёт продюсер с настройками
func NewKafka(brokers []string, eventTopic, heartbeatTopic string) (*KafkaExporter, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create Kafka producer: %w", err)
	}

	return &KafkaExporter{
		producer:       producer,
		eventTopic:     eventTopic,
		heartbeatTopic: heartbeatTopic,
	}, nil
}

func (k *KafkaExporter) Close() error {
	if err := k.producer.Close(); err != nil {
		return fmt.Errorf("close Kafka producer: %w", err)
	}
	return nil
}

// SendHeartbeat отправляет одно сообщение в Kafka
func (k *KafkaExporter) SendHeartbeat(hb models.Heartbeat) error {
	msg, err := heartbeatMessage(k.heartbeatTopic, hb)
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(msg)
	return err
}

// SendEvent публикует событие в топик событий.
func (k *KafkaExporter) SendEvent(ev models.EventRecord) error {
	msg, err := eventMessage(k.eventTopic, ev)
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(msg)
	return err
}

// Messages are keyed by session so one agent's stream stays ordered
// within a partition.

func heartbeatMessage(topic string, hb models.Heartbeat) (*sarama.ProducerMessage, error) {
	payload, err := json.Marshal(hb)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(hb.SessionID),
		Value: sarama.ByteEncoder(payload),
	}, nil
}

func eventMessage(topic string, ev models.EventRecord) (*sarama.ProducerMessage, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.SessionID),
		Value: sarama.ByteEncoder(payload),
	}, nil
}
