// Copyright 2026 fanjia1024
// Secret management abstraction

package secrets

import (
	"context"
)

// Store Secret 存储接口；目录站凭证与翻译 API Key 经由此解析
type Store interface {
	// Get 获取 secret 值
	Get(ctx context.Context, key string) (string, error)

	// Set 设置 secret 值
	Set(ctx context.Context, key string, value string) error

	// Delete 删除 secret
	Delete(ctx context.Context, key string) error

	// List 列出所有 secret keys
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config Secret Store 配置
type Config struct {
	Provider string            `yaml:"provider"` // env | memory
	Config   map[string]string `yaml:"config"`   // Provider-specific config
}

// NewStore 创建 Secret Store
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "memory":
		return NewMemoryStore(), nil
	case "env":
		return NewEnvStore(), nil
	default:
		return NewEnvStore(), nil
	}
}

// Resolve 返回 configured 非空时的原值，否则从 store 取 key；两者皆空时返回空串
func Resolve(ctx context.Context, store Store, configured, key string) string {
	if configured != "" {
		return configured
	}
	if store == nil {
		return ""
	}
	v, err := store.Get(ctx, key)
	if err != nil {
		return ""
	}
	return v
}
