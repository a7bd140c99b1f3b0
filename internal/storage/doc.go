// Package storage keeps the scheduler audit trail: one row per registry or
// lifecycle event (job added/removed, worker started/stopped).
//
// It never persists the registry itself; jobs are code and are registered
// again by the host on every start.
package storage
