package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"
)

// SharedSecret 校验 webhook 请求携带的共享密钥。
type SharedSecret struct {
	digest [sha256.Size]byte
	set    bool
}

// NewSharedSecret 构造校验器。空密钥拒绝一切请求。
func NewSharedSecret(secret string) SharedSecret {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return SharedSecret{}
	}
	return SharedSecret{digest: sha256.Sum256([]byte(secret)), set: true}
}

// Configured 报告是否设置了密钥。
func (s SharedSecret) Configured() bool {
	return s.set
}

// Verify 以常数时间比较密钥摘要，两侧均去除首尾空白。
func (s SharedSecret) Verify(presented string) bool {
	presented = strings.TrimSpace(presented)
	if !s.set || presented == "" {
		return false
	}
	digest := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(s.digest[:], digest[:]) == 1
}
