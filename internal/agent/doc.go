// Package agent defines the persisted model of a launched agent (token plus
// its off-chain sandbox process), the lifecycle and survival-tier rules that
// govern it, and the Store contract every state backend implements. Stores
// enforce the model invariants at write time: fee split sums to 100, dead is
// terminal, the genesis prompt is immutable and sandbox/wallet identifiers
// fill in at most once.
package agent
