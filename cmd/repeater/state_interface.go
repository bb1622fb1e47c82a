package main

// StateStore tracks what is parked and what has happened, for the dashboard,
// the state API and (with the Redis backend) a shared multi-instance view.
// It is bookkeeping beside the registry, never the authority on sockets.
type StateStore interface {
	notePark(e parkedEntry)
	noteUnpark(id string)
	noteSession()
	noteEvicted(n int)
	setClosing(closing bool)
	setReady(ready bool)
	isClosing() bool
	isReady() bool
	getStats() stateSnapshot
}
