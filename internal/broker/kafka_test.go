package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader serves a fixed list of messages, then blocks until ctx is done
type scriptedReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	fetched  []int64
	commits  []int64
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.fetched = append(r.fetched, msg.Offset)
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.commits = append(r.commits, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func TestConsumer_RetriesFailedMessageBeforeMovingOn(t *testing.T) {
	reader := &scriptedReader{messages: []kafka.Message{{Offset: 10}, {Offset: 11}}}
	consumer := NewConsumerWithReader(reader, "purchase-events", time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled []int64
	failures := 2
	err := consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		handled = append(handled, msg.Offset)
		if msg.Offset == 10 && failures > 0 {
			failures--
			return errors.New("print partner unavailable")
		}
		if msg.Offset == 11 {
			cancel()
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{10, 10, 10, 11}, handled)
	assert.Equal(t, []int64{10, 11}, reader.fetched)
	require.NotEmpty(t, reader.commits)
	assert.Equal(t, int64(10), reader.commits[0])
}

func TestConsumer_StopsRetryingOnCancel(t *testing.T) {
	reader := &scriptedReader{messages: []kafka.Message{{Offset: 3}, {Offset: 4}}}
	consumer := NewConsumerWithReader(reader, "purchase-events", time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	err := consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		attempts++
		if attempts == 3 {
			cancel()
		}
		return errors.New("still failing")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int64{3}, reader.fetched, "the next message must not be fetched")
	assert.Empty(t, reader.commits, "a failed message must not be committed")
}
