// Package api 暴露 alifed 的 HTTP 接口：webhook 入口、只读查询接口与需要 JWT 的操作员接口。
package api
