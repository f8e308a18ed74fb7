// Package config 加载 alifed 的 JSON 配置文件，并用环境变量覆盖其中的密钥。
// 私钥、共享密钥等敏感字段不会从 JSON 读取。
package config
