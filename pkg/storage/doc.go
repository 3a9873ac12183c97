// Package storage defines the execution history: the Record written for
// every executed request, the Store interface the adapters (memory,
// postgres) implement, and tenant context helpers shared by them.
package storage
