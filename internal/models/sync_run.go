package models

import "time"

// SyncRun records one execution of the library sync
type SyncRun struct {
	ID               string `boltholdKey:"ID"`
	Status           SyncStatus
	StartedAt        time.Time `boltholdIndex:"StartedAt"`
	CompletedAt      *time.Time
	ServersConnected int
	ServersSkipped   int
	ItemsDiscovered  int
	ItemsSynced      int
	ItemsFailed      int
	OrphansRemoved   int
	Reconciled       bool
	CurrentTitle     string
	Error            string
}

// Duration returns the elapsed time of the run
func (r *SyncRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
