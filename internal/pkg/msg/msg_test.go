package msg

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

func TestSubscribe(t *testing.T) {
	pidPub, err := uuid.NewUUID()
	assert.NilError(t, err)
	pidSub1, err := uuid.NewUUID()
	assert.NilError(t, err)
	pidSub2, err := uuid.NewUUID()
	assert.NilError(t, err)

	pubsub := NewPublisher(pidPub)
	ch1, err := pubsub.Subscribe(pidSub1, Status)
	assert.NilError(t, err)
	ch2, err := pubsub.Subscribe(pidSub2, Status)
	assert.NilError(t, err)

	randValue := rand.New(rand.NewSource(time.Now().UnixNano())).Float64()
	pubsub.Publish(Status, randValue)

	for _, ch := range []<-chan Msg{ch1, ch2} {
		incoming := <-ch
		assert.Equal(t, incoming.Payload(), randValue)
		assert.Equal(t, incoming.PID(), pidPub)
		assert.Equal(t, incoming.Topic(), Status)
	}
}

func TestSubscribeTwice(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	_, err := pubsub.Subscribe(pid, Status)
	assert.NilError(t, err)
	_, err = pubsub.Subscribe(pid, Status)
	assert.Equal(t, err, ErrSubscribed)
	_, err = pubsub.Subscribe(pid, Fault)
	assert.NilError(t, err)
}

func TestTopicsAreSeparate(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	status, err := pubsub.Subscribe(pid, Status)
	assert.NilError(t, err)

	pubsub.Publish(Fault, "boom")
	select {
	case m := <-status:
		t.Fatalf("status subscriber got %v", m)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	status, err := pubsub.Subscribe(pid, Status)
	assert.NilError(t, err)
	fault, err := pubsub.Subscribe(pid, Fault)
	assert.NilError(t, err)

	pubsub.Unsubscribe(pid)
	_, ok := <-status
	assert.Assert(t, !ok)
	_, ok = <-fault
	assert.Assert(t, !ok)

	pubsub.Publish(Status, 1)
}

func TestPublishDoesNotBlock(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, err := pubsub.Subscribe(uuid.New(), Status)
	assert.NilError(t, err)

	for i := 0; i < SubscriberBuffer*3; i++ {
		pubsub.Publish(Status, i)
	}
	assert.Equal(t, len(ch), SubscriberBuffer)
	first := <-ch
	assert.Equal(t, first.Payload(), 0)
}

func TestClose(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, err := pubsub.Subscribe(uuid.New(), Status)
	assert.NilError(t, err)

	pubsub.Close()
	_, ok := <-ch
	assert.Assert(t, !ok)

	_, err = pubsub.Subscribe(uuid.New(), Status)
	assert.Equal(t, err, ErrClosed)
	pubsub.Close()
}
