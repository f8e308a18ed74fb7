// Package launch 编排智能体发射流程：链上铸造代币、申请托管沙箱、落库并记录审计日志，
// 同时提供发射后的生命周期操作（恢复落库、重新申请沙箱、注资、终止）。
//
// 铸造与申请沙箱都有外部副作用，协调器从不自动重试。落库失败时返回的错误携带
// 恢复令牌，凭令牌只重做落库步骤，不会重复铸造。
package launch
