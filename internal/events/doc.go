// Package events carries task submission notifications from the submission
// service to whoever wants an early wake-up: embedded executors, and a
// message bus publisher for executors running in other processes.
//
// Events never carry state the store does not already have, so losing one
// only delays pickup until the next poll.
package events
