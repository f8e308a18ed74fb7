// Package webhook 解码托管服务推送的生命周期事件，并将其原子地写入智能体状态。
//
// 事件被解码为六种具名类型之一，每种类型在边界处校验自己的必填字段；
// 未知事件类型与缺失字段一律以 INVALID_PAYLOAD 拒绝。
package webhook
