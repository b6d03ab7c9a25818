// Package staging выгружает выходную директорию downstream run'а
// в S3-совместимое хранилище (MinIO, AWS S3).
package staging

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/rpd-pipelines/internal/config"
)

var (
	// ErrInvalidConfig — некорректная конфигурация хранилища.
	ErrInvalidConfig = errors.New("invalid staging config")

	// ErrNotComplete — в директории нет флага WORKFLOW_COMPLETE.
	ErrNotComplete = errors.New("run not complete")
)

// Config — параметры подключения к хранилищу.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string

	// Prefix — префикс ключей объектов.
	Prefix string
}

// ConfigFromEnv читает параметры из RPD_S3_*.
func ConfigFromEnv() (Config, error) {
	useSSL, err := config.EnvBool("RPD_S3_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Endpoint:  config.EnvString("RPD_S3_ENDPOINT", "s3.amazonaws.com"),
		AccessKey: config.EnvString("RPD_S3_ACCESS_KEY", ""),
		SecretKey: config.EnvString("RPD_S3_SECRET_KEY", ""),
		Region:    config.EnvString("RPD_S3_REGION", "ap-southeast-1"),
		UseSSL:    useSSL,
		Bucket:    config.EnvString("RPD_S3_BUCKET", "rpd-downstream"),
		Prefix:    config.EnvString("RPD_S3_PREFIX", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет обязательные поля.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	case strings.Contains(c.Endpoint, "://"):
		return fmt.Errorf("%w: endpoint must not include scheme: %q", ErrInvalidConfig, c.Endpoint)
	case c.AccessKey == "" || c.SecretKey == "":
		return fmt.Errorf("%w: access and secret keys are required", ErrInvalidConfig)
	case strings.TrimSpace(c.Bucket) == "":
		return fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	}
	return nil
}
