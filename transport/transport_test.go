package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransport_Close(t *testing.T) {
	t.Run("closes both sides", func(t *testing.T) {
		pub, sub := &mockPublisher{}, &mockSubscriber{}
		assert.NoError(t, Transport{Publisher: pub, Subscriber: sub}.Close())
		assert.Equal(t, 1, pub.closed)
		assert.Equal(t, 1, sub.closed)
	})

	t.Run("shared pubsub closes once", func(t *testing.T) {
		ps := &mockPubSub{}
		assert.NoError(t, Transport{Publisher: ps, Subscriber: ps}.Close())
		assert.Equal(t, 1, ps.closed)
	})

	t.Run("returns the first error", func(t *testing.T) {
		subErr := errors.New("subscriber close")
		pub := &mockPublisher{err: errors.New("publisher close")}
		sub := &mockSubscriber{err: subErr}
		err := Transport{Publisher: pub, Subscriber: sub}.Close()
		assert.Equal(t, subErr, err)
		assert.Equal(t, 1, pub.closed)
	})

	t.Run("empty transport", func(t *testing.T) {
		assert.NoError(t, Transport{}.Close())
	})
}
