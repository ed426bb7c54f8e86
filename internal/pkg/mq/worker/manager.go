package worker

import (
	"github.com/3Eeeecho/go-docstore/internal/config"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/mq"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
)

// StartAllWorkers 启动应用中所有定义的后台 Worker
func StartAllWorkers(cfg *config.Config, mqClient *mq.RabbitMQClient, purger *storage.DirectPurger) error {
	// --- 启动内容删除 Worker ---
	purgeWorker := NewPurgeWorker(mqClient, purger, cfg.RabbitMQ.PurgeQueue)
	if err := purgeWorker.Start(); err != nil {
		return err
	}

	logger.Info("所有后台工作进程已启动。")
	return nil
}
