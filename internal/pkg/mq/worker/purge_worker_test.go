package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	queue  string
	bodies [][]byte
	err    error
}

func (p *recordingPublisher) Publish(queue string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.queue = queue
	p.bodies = append(p.bodies, body)
	return nil
}

type fakeAck struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (a *fakeAck) Ack(uint64, bool) error { a.acked = true; return nil }
func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}
func (a *fakeAck) Reject(_ uint64, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

type fakeConsumer struct {
	declared string
	handler  func(amqp.Delivery)
}

func (c *fakeConsumer) DeclareQueue(name string) (amqp.Queue, error) {
	c.declared = name
	return amqp.Queue{Name: name}, nil
}

func (c *fakeConsumer) Consume(_ string, handler func(amqp.Delivery)) error {
	c.handler = handler
	return nil
}

func delivery(t *testing.T, task models.PurgeTask) (amqp.Delivery, *fakeAck) {
	t.Helper()
	body, err := json.Marshal(task)
	require.NoError(t, err)
	ack := &fakeAck{}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}, ack
}

func TestQueuedPurger_OneMessagePerDisk(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewQueuedPurger(pub, "")

	err := p.Purge(context.Background(), []storage.Blob{
		{Disk: "s3", Key: "files/b"},
		{Disk: "local", Key: "files/a"},
		{Disk: "local", Key: "files/a"},
		{Disk: "local", Key: "files/c"},
	})
	require.NoError(t, err)
	assert.Equal(t, PurgeQueueName, pub.queue)
	require.Len(t, pub.bodies, 2)

	var first, second models.PurgeTask
	require.NoError(t, json.Unmarshal(pub.bodies[0], &first))
	require.NoError(t, json.Unmarshal(pub.bodies[1], &second))
	assert.Equal(t, models.PurgeTask{Disk: "local", Keys: []string{"files/a", "files/c"}}, first)
	assert.Equal(t, models.PurgeTask{Disk: "s3", Keys: []string{"files/b"}}, second)
}

func TestQueuedPurger_PublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("channel closed")}
	err := NewQueuedPurger(pub, "q").Purge(context.Background(), []storage.Blob{{Disk: "local", Key: "k"}})
	assert.ErrorContains(t, err, "channel closed")
}

func TestPurgeWorker_Handle(t *testing.T) {
	ctx := context.Background()
	disk, err := storage.NewLocalDisk("local", t.TempDir())
	require.NoError(t, err)
	manager, err := storage.NewManager("local", disk)
	require.NoError(t, err)
	require.NoError(t, disk.Put(ctx, "files/a", strings.NewReader("a"), 1, ""))

	consumer := &fakeConsumer{}
	w := NewPurgeWorker(consumer, storage.NewDirectPurger(manager), "")
	require.NoError(t, w.Start())
	assert.Equal(t, PurgeQueueName, consumer.declared)
	require.NotNil(t, consumer.handler)

	t.Run("deletes and acks", func(t *testing.T) {
		msg, ack := delivery(t, models.PurgeTask{Disk: "local", Keys: []string{"files/a"}})
		consumer.handler(msg)
		assert.True(t, ack.acked)
		ok, _ := disk.Exists(ctx, "files/a")
		assert.False(t, ok)
	})

	t.Run("unknown disk is dropped", func(t *testing.T) {
		msg, ack := delivery(t, models.PurgeTask{Disk: "gone", Keys: []string{"x"}})
		w.Handle(msg)
		assert.True(t, ack.nacked)
		assert.False(t, ack.requeued)
	})

	t.Run("malformed body is dropped", func(t *testing.T) {
		ack := &fakeAck{}
		w.Handle(amqp.Delivery{Acknowledger: ack, Body: []byte("{")})
		assert.True(t, ack.nacked)
		assert.False(t, ack.requeued)
	})

	t.Run("invalid key is requeued", func(t *testing.T) {
		msg, ack := delivery(t, models.PurgeTask{Disk: "local", Keys: []string{"../escape"}})
		w.Handle(msg)
		assert.True(t, ack.nacked)
		assert.True(t, ack.requeued)
	})
}
