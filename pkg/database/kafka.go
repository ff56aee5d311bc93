package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventPublisher definition outbound event publisher
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisherWithRetry 嘗試建立 Kafka Writer 並發送測試訊息以確認連線
// Writer 不綁定單一 topic，由每則訊息自帶 topic
func NewKafkaPublisherWithRetry(k KafkaConnection) (EventPublisher, error) {
	var writer *kafka.Writer
	var err error

	for attempt := 1; attempt <= k.RetryCount; attempt++ {
		writer = &kafka.Writer{
			Addr:     kafka.TCP(k.Brokers...),
			Balancer: &kafka.LeastBytes{},
		}

		// 發送一個測試訊息（例如 "ping"），確認連線是否成功
		err = writer.WriteMessages(context.Background(), kafka.Message{
			Topic: k.Topic,
			Key:   []byte("ping"),
			Value: []byte("ping"),
		})
		if err == nil {
			log.Printf("Kafka Writer 建立成功 (嘗試 %d 次)", attempt)
			return &kafkaPublisher{writer: writer}, nil
		}

		log.Printf("Kafka Writer 建立失敗 (嘗試 %d/%d): %v", attempt, k.RetryCount, err)
		writer.Close()
		time.Sleep(k.RetryInterval * time.Second)
	}

	return nil, fmt.Errorf("無法建立 Kafka Writer，經過 %d 次嘗試: %v", k.RetryCount, err)
}

// Publish write one message to the given topic
func (p *kafkaPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
}

// Close close the underlying writer
func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}
