// Package realtime fans agent row updates and log inserts out to
// subscribers. Buses are observational: a failed publish never fails the
// write that produced the change.
package realtime
