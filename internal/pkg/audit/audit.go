package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 审计动作
const (
	ActionFolderCreate   = "folder.create"
	ActionFolderRename   = "folder.rename"
	ActionFolderMove     = "folder.move"
	ActionFolderDelete   = "folder.delete"
	ActionFolderRestore  = "folder.restore"
	ActionFolderPurge    = "folder.purge"
	ActionFileUpload     = "file.upload"
	ActionFileReplace    = "file.replace"
	ActionFileRename     = "file.rename"
	ActionFileMove       = "file.move"
	ActionFileDelete     = "file.delete"
	ActionFileRestore    = "file.restore"
	ActionFilePurge      = "file.purge"
	ActionFileDownload   = "file.download"
	ActionVersionRestore = "file.version_restore"
	ActionShareGrant     = "share.grant"
	ActionShareRevoke    = "share.revoke"
	ActionShareDept      = "share.department"
	ActionLinkCreate     = "link.create"
	ActionLinkRevoke     = "link.revoke"
	ActionLinkDownload   = "link.download"
	ActionArchiveBuild   = "archive.build"
)

const (
	EntityFolder = "folder"
	EntityFile   = "file"
	EntityLink   = "share_link"
)

type Event struct {
	ActorID        uint64
	Action         string
	EntityType     string
	EntityID       uint64
	Metadata       map[string]any
	IdempotencyKey string
	OccurredAt     time.Time
}

// Sink 接收审计事件。Record 在事务提交后调用，失败不影响业务结果
type Sink interface {
	Record(ctx context.Context, e Event) error
}

type idempotencyKey struct{}

// WithIdempotencyKey 把请求携带的幂等键放进 ctx，审计事件原样带出
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKey{}, key)
}

func IdempotencyKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}

func prepare(ctx context.Context, e Event) Event {
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = IdempotencyKeyFrom(ctx)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	return e
}

// RedisStreamSink 用 XADD 写入 Redis Stream
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Record(ctx context.Context, e Event) error {
	values, err := streamValues(prepare(ctx, e))
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("写入审计流失败: %w", err)
	}
	return nil
}

func streamValues(e Event) (map[string]any, error) {
	values := map[string]any{
		"actor_id":    strconv.FormatUint(e.ActorID, 10),
		"action":      e.Action,
		"entity_type": e.EntityType,
		"entity_id":   strconv.FormatUint(e.EntityID, 10),
		"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if e.IdempotencyKey != "" {
		values["idempotency_key"] = e.IdempotencyKey
	}
	if len(e.Metadata) > 0 {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("序列化审计元数据失败: %w", err)
		}
		values["metadata"] = string(meta)
	}
	return values, nil
}

// LogSink 把事件写成结构化日志
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(l *zap.Logger) *LogSink {
	return &LogSink{log: l}
}

func (s *LogSink) Record(ctx context.Context, e Event) error {
	e = prepare(ctx, e)
	s.log.Info("audit",
		zap.Uint64("actor_id", e.ActorID),
		zap.String("action", e.Action),
		zap.String("entity_type", e.EntityType),
		zap.Uint64("entity_id", e.EntityID),
		zap.String("idempotency_key", e.IdempotencyKey),
		zap.Any("metadata", e.Metadata),
		zap.Time("occurred_at", e.OccurredAt),
	)
	return nil
}

// FallbackSink 主 sink 失败时写入备用 sink
type FallbackSink struct {
	primary  Sink
	fallback Sink
}

func NewFallbackSink(primary, fallback Sink) *FallbackSink {
	return &FallbackSink{primary: primary, fallback: fallback}
}

func (s *FallbackSink) Record(ctx context.Context, e Event) error {
	if err := s.primary.Record(ctx, e); err != nil {
		if ferr := s.fallback.Record(ctx, e); ferr != nil {
			return fmt.Errorf("%w (fallback: %v)", err, ferr)
		}
	}
	return nil
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
