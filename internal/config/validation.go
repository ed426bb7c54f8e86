package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate 先执行 struct tag 校验，再检查 tag 表达不了的交叉约束
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if _, ok := cfg.Storage.Disks[cfg.Storage.DefaultDisk]; !ok {
		return fmt.Errorf("storage.default_disk: disk %q is not configured", cfg.Storage.DefaultDisk)
	}
	if cfg.RabbitMQ.Enabled && cfg.RabbitMQ.PurgeQueue == "" {
		return fmt.Errorf("rabbitmq.purge_queue: required when rabbitmq is enabled")
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
