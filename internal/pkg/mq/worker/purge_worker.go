package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/mq"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const PurgeQueueName = "blob_purge_queue"

// QueuedPurger 把删除任务发布到 RabbitMQ，由 PurgeWorker 异步执行
type QueuedPurger struct {
	publisher mq.Publisher
	queue     string
}

func NewQueuedPurger(publisher mq.Publisher, queue string) *QueuedPurger {
	if queue == "" {
		queue = PurgeQueueName
	}
	return &QueuedPurger{publisher: publisher, queue: queue}
}

// Purge 每个磁盘发布一条消息
func (p *QueuedPurger) Purge(ctx context.Context, blobs []storage.Blob) error {
	grouped := storage.GroupByDisk(blobs)
	disks := make([]string, 0, len(grouped))
	for disk := range grouped {
		disks = append(disks, disk)
	}
	sort.Strings(disks)

	var errs []error
	for _, disk := range disks {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := json.Marshal(models.PurgeTask{Disk: disk, Keys: grouped[disk]})
		if err != nil {
			return fmt.Errorf("marshal purge task: %w", err)
		}
		if err := p.publisher.Publish(p.queue, body); err != nil {
			logger.Error("Failed to publish purge task",
				zap.String("disk", disk), zap.Int("count", len(grouped[disk])), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PurgeWorker 消费删除任务，调用 DirectPurger 删除内容
type PurgeWorker struct {
	consumer mq.Consumer
	purger   *storage.DirectPurger
	queue    string
}

func NewPurgeWorker(consumer mq.Consumer, purger *storage.DirectPurger, queue string) *PurgeWorker {
	if queue == "" {
		queue = PurgeQueueName
	}
	return &PurgeWorker{consumer: consumer, purger: purger, queue: queue}
}

func (w *PurgeWorker) Start() error {
	if _, err := w.consumer.DeclareQueue(w.queue); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", w.queue, err)
	}
	if err := w.consumer.Consume(w.queue, w.Handle); err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", w.queue, err)
	}
	logger.Info("Purge worker started", zap.String("queue", w.queue))
	return nil
}

func (w *PurgeWorker) Handle(msg amqp.Delivery) {
	var task models.PurgeTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		logger.Error("Failed to unmarshal purge task", zap.Error(err))
		_ = msg.Nack(false, false) // 解析失败,直接抛弃
		return
	}
	if len(task.Keys) == 0 {
		_ = msg.Ack(false)
		return
	}

	if err := w.purger.PurgeDisk(context.Background(), task.Disk, task.Keys); err != nil {
		if errors.Is(err, storage.ErrDiskNotFound) {
			// 磁盘已从配置中移除，重试没有意义
			logger.Error("Dropping purge task for unknown disk", zap.String("disk", task.Disk), zap.Error(err))
			_ = msg.Nack(false, false)
			return
		}
		_ = msg.Nack(false, true) // 重新入队
		return
	}

	logger.Info("Successfully processed purge task", zap.String("disk", task.Disk), zap.Int("count", len(task.Keys)))
	_ = msg.Ack(false)
}
