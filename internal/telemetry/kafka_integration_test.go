//go:build integration

package telemetry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/learnsync/internal/events"
)

func TestPublisherWritesToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	topic := "learnsync.sync-sessions"
	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))

	producer := NewKafkaProducer(brokers)
	defer producer.Close()
	publisher := NewPublisher(producer, &stubRegistry{id: 7}, topic, "device-it")
	require.NoError(t, publisher.Publish(ctx, sampleReport()))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, "u1", string(msg.Key))
	require.Equal(t, uint32(7), binary.BigEndian.Uint32(msg.Value[1:5]))

	var event events.SyncSessionCompleted
	require.NoError(t, json.Unmarshal(msg.Value[5:], &event))
	require.Equal(t, "device-it", event.DeviceID)
	require.Equal(t, "push activities", event.FailedStep)
}
