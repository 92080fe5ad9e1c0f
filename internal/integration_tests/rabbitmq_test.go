package integrationtests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"visiona-backend/internal/messaging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	url := setupRabbitMQContainer(t, ctx)

	publisher, err := messaging.NewRabbitMQPublisher(url)
	require.NoError(t, err)
	defer publisher.Close()

	receiver, err := messaging.NewRabbitMQReceiver(url)
	require.NoError(t, err)
	defer receiver.Close()

	t.Run("Publish and Receive ReconcileTask", func(t *testing.T) {
		payload := messaging.ReconcileTaskPayload{ModelId: "train-abc", Attempt: 3}
		err := publisher.PublishReconcileTask(ctx, payload)
		require.NoError(t, err)

		select {
		case task := <-receiver.Tasks():
			assert.Equal(t, messaging.ReconcileQueue, task.Type())

			var receivedPayload messaging.ReconcileTaskPayload
			err := json.Unmarshal(task.Payload(), &receivedPayload)
			require.NoError(t, err)
			assert.Equal(t, payload, receivedPayload)

			err = task.Ack()
			require.NoError(t, err)
		case <-time.After(4 * time.Second):
			t.Fatal("Timed out waiting for task")
		}
	})

	t.Run("Nacked task is not redelivered", func(t *testing.T) {
		payload := messaging.ReconcileTaskPayload{ModelId: "train-nack"}
		require.NoError(t, publisher.PublishReconcileTask(ctx, payload))

		select {
		case task := <-receiver.Tasks():
			// Nack without requeue drops the message.
			require.NoError(t, task.Nack())
		case <-time.After(4 * time.Second):
			t.Fatal("Timed out waiting for task")
		}

		select {
		case task := <-receiver.Tasks():
			t.Fatalf("unexpected redelivery: %s", task.Payload())
		case <-time.After(2 * time.Second):
		}
	})
}
