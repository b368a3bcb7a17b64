// Package natsbus relays task submission events over core NATS so executors
// in other processes wake up as soon as work is committed. Delivery is
// best effort; subscribers still poll the task store.
package natsbus
