package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/3Eeeecho/go-docstore/internal/config"
	"github.com/3Eeeecho/go-docstore/internal/handlers"
	"github.com/3Eeeecho/go-docstore/internal/pkg/audit"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/mq"
	"github.com/3Eeeecho/go-docstore/internal/pkg/mq/worker"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
	"github.com/3Eeeecho/go-docstore/internal/router"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	"github.com/3Eeeecho/go-docstore/internal/services/archive"
	"github.com/3Eeeecho/go-docstore/internal/services/explorer"
	"github.com/3Eeeecho/go-docstore/internal/services/share"
	"github.com/3Eeeecho/go-docstore/internal/setup"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	httpServer     *http.Server
	db             *gorm.DB
	redisClient    *redis.Client
	rabbitMQClient *mq.RabbitMQClient
}

// NewServer 负责构建所有依赖
func NewServer(ctx context.Context, cfg *config.Config) (srv *Server, err error) {
	s := &Server{}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	// 初始化数据库连接
	s.db, err = setup.InitDatabase(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err = setup.AutoMigrate(s.db); err != nil {
		return nil, err
	}

	// 初始化 Redis 连接，可选
	s.redisClient, err = setup.InitRedis(ctx, &cfg.Redis)
	if err != nil {
		return nil, err
	}

	disks, err := setup.InitStorage(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}
	direct := storage.NewDirectPurger(disks)

	// 启用 RabbitMQ 时内容删除走队列
	var purger storage.BlobPurger = direct
	if cfg.RabbitMQ.Enabled {
		s.rabbitMQClient, err = mq.NewRabbitMQClient(cfg.RabbitMQ.URL)
		if err != nil {
			return nil, err
		}
		purger = worker.NewQueuedPurger(s.rabbitMQClient, cfg.RabbitMQ.PurgeQueue)
		if err = worker.StartAllWorkers(cfg, s.rabbitMQClient, direct); err != nil {
			return nil, fmt.Errorf("failed to start workers: %w", err)
		}
	}

	var sink audit.Sink = audit.NewLogSink(logger.Named("audit"))
	if s.redisClient != nil {
		sink = audit.NewFallbackSink(audit.NewRedisStreamSink(s.redisClient, cfg.Audit.Stream, cfg.Audit.MaxLen), sink)
	}

	//  初始化 Services
	tm := explorer.NewTransactionManager(s.db)
	resolver := access.NewResolver(s.db)
	deps := explorer.Deps{DB: s.db, TM: tm, Resolver: resolver, Disks: disks, Purger: purger, Audit: sink}
	tree := explorer.NewTreeService(deps)
	life := explorer.NewLifecycleService(deps)
	query := explorer.NewQueryService(deps)
	download := explorer.NewDownloadService(deps, archive.NewBuilder(disks, cfg.Archive.TempDir))
	registry := share.NewRegistry(s.db, tm, resolver, disks, sink)

	//  初始化 Handlers 和路由
	engine := router.InitRouter(&router.RouterConfig{
		Folders:  handlers.NewFolderHandler(tree, life, query, download),
		Files:    handlers.NewFileHandler(tree, life, cfg.Server.MaxUploadMB<<20),
		Explorer: handlers.NewExplorerHandler(query, life, download),
		Shares:   handlers.NewShareHandler(registry),
		JWT:      cfg.JWT,
		Mode:     cfg.Server.Mode,
	})

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.WithCORS(engine, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) close() {
	if s.rabbitMQClient != nil {
		s.rabbitMQClient.Close()
	}
	setup.CloseRedis(s.redisClient)
	setup.CloseDatabase(s.db)
}

// Run 启动服务器，收到停止信号后优雅关机
func (s *Server) Run(stopChan <-chan os.Signal) error {
	defer s.close()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server is running", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-stopChan:
	}
	logger.Info("Shutting down server...")

	// 优雅关机
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exited gracefully")
	return nil
}
