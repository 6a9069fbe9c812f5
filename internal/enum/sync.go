package enum

type SyncMode string

const (
	SyncModePush      SyncMode = "push"
	SyncModeScheduled SyncMode = "scheduled"
)

func (t SyncMode) String() string {
	return string(t)
}

type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

func (t SyncStatus) String() string {
	return string(t)
}

// ServerGeneration is a coarse capability hint resolved at account setup. The
// legacy generation requires the verbose XML framing for a subset of
// operations where the compact framing is unreliable.
type ServerGeneration string

const (
	GenerationModern ServerGeneration = "modern"
	GenerationLegacy ServerGeneration = "legacy"
)

func (t ServerGeneration) String() string {
	return string(t)
}
