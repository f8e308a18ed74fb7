// Package mysql persists agent state in MySQL: the agents table with its
// denormalised aggregates, the append-only log/earning/expense/funding
// ledgers, and the embedded schema migrations. Every mutation of an agents
// row is a single conditional statement, and ledger inserts run in the same
// transaction as the aggregate update they feed.
package mysql
