package model

// SyncState is a SyncEngine state.
type SyncState string

const (
	StateCreated        SyncState = "created"
	StateSchemaReady    SyncState = "schema_ready"
	StateWindowComputed SyncState = "window_computed"
	StateEventsFetched  SyncState = "events_fetched"
	StateTokensEnriched SyncState = "tokens_enriched"
	StateApplied        SyncState = "applied"
	StateReported       SyncState = "reported"
	StateFailed         SyncState = "failed"
)

// Terminal reports whether no further transition can happen.
func (s SyncState) Terminal() bool {
	return s == StateReported || s == StateFailed
}
