// Package web3 houses blockchain connectivity utilities: the chain client
// abstraction consumed by contract bindings, key-backed signers, YAML chain
// definitions, and the classification of transaction failures into the
// service's error codes.
package web3
