package models

// PurgeTask 发布到 RabbitMQ 的内容删除任务，同一磁盘的 key 合并为一条消息
type PurgeTask struct {
	Disk string   `json:"disk"`
	Keys []string `json:"keys"`
}
