// Package auth guards the HTTP API with static bearer API keys.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/danielhardy/obru-ai/pkg/logger"
)

type entry struct {
	digest [sha256.Size]byte
	name   string
}

// Service 校验请求携带的 API 密钥。未配置密钥时认证关闭。
type Service struct {
	keys  []entry
	audit *slog.Logger
}

// NewService 根据密钥配置构造认证服务。
func NewService(rawKeys []string) (*Service, error) {
	svc := &Service{audit: logger.Audit()}
	for i, raw := range rawKeys {
		key, err := ParseKey(raw)
		if err != nil {
			return nil, fmt.Errorf("auth key %d: %w", i, err)
		}
		digest := sha256.Sum256([]byte(key.Secret))
		name := key.Label
		if name == "" {
			name = "key-" + hex.EncodeToString(digest[:4])
		}
		svc.keys = append(svc.keys, entry{digest: digest, name: name})
	}
	return svc, nil
}

// Enabled 判断是否配置了密钥。
func (s *Service) Enabled() bool {
	return s != nil && len(s.keys) > 0
}

// AuthenticateRequest 解析 Authorization 头并匹配密钥，比较以常数时间进行。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	scheme, token, found := strings.Cut(strings.TrimSpace(authorization), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return nil, ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var matched *entry
	for i := range s.keys {
		if subtle.ConstantTimeCompare(digest[:], s.keys[i].digest[:]) == 1 {
			matched = &s.keys[i]
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	return &Subject{Name: matched.name}, nil
}
