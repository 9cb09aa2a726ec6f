package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/sparked/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	assert.True(t, transport.DefaultRegistry.Has(TransportName))
}

func TestBuild(t *testing.T) {
	t.Run("publisher and subscriber share a channel", func(t *testing.T) {
		tr, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = tr.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		msgs, err := tr.Subscriber.Subscribe(ctx, "user.created")
		require.NoError(t, err)

		require.NoError(t, tr.Publisher.Publish("user.created", message.NewMessage("1", []byte(`{"id":1}`))))

		select {
		case msg := <-msgs:
			assert.Equal(t, `{"id":1}`, string(msg.Payload))
			msg.Ack()
		case <-time.After(time.Second):
			t.Fatal("message was not delivered")
		}
	})

	t.Run("uses custom factory", func(t *testing.T) {
		originalFactory := Factory
		t.Cleanup(func() { Factory = originalFactory })

		mockPub := &mockPublisher{}
		mockSub := &mockSubscriber{}
		var got gochannel.Config
		Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
			got = cfg
			return mockPub, mockSub
		}

		tr, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, mockPub, tr.Publisher)
		assert.Equal(t, mockSub, tr.Subscriber)
		assert.Equal(t, int64(OutputBuffer), got.OutputChannelBuffer)
	})
}

type mockConfig struct{}

func (m *mockConfig) GetPubSubSystem() string       { return TransportName }
func (m *mockConfig) GetClientName() string         { return "test" }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
