package auth

import (
	"errors"
	"strings"
)

// 认证子系统返回的常见错误。
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid api key")
)

// Subject 是通过认证的调用方，Name 来自密钥配置中的标签。
type Subject struct {
	Name string
}

// Key 是一条 API 密钥配置。配置形如 "label:secret"，缺少标签时以密钥指纹命名。
type Key struct {
	Label  string
	Secret string
}

// ParseKey 解析一条密钥配置。
func ParseKey(raw string) (Key, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Key{}, errors.New("api key is empty")
	}
	label, secret, found := strings.Cut(raw, ":")
	if !found {
		return Key{Secret: raw}, nil
	}
	label = strings.TrimSpace(label)
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Key{}, errors.New("api key secret is empty")
	}
	return Key{Label: label, Secret: secret}, nil
}
