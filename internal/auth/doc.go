// Package auth 提供 webhook 共享密钥校验与操作员接口的 JWT 身份认证。
package auth
