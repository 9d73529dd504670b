package models

// UnitKind distinguishes the two kinds of work the campaign tooling claims
type UnitKind string

const (
	UnitKindScene      UnitKind = "scene"
	UnitKindCheckpoint UnitKind = "checkpoint"
)

// WorkUnit identifies one item of work. It is immutable once discovered.
type WorkUnit struct {
	Kind UnitKind
	// ID is the scene identifier or the checkpoint file path
	ID string
	// OutputPath is the shard path for scenes and the checkpoint path for
	// checkpoints. Claim sentinels are derived from it.
	OutputPath string
	// Ordinal is the integer extracted from a checkpoint name (ckpt.N.pth).
	// Scenes have no ordinal.
	Ordinal int
}

// UnitStatus represents where a unit is in the claim lifecycle
type UnitStatus string

const (
	UnitStatusPending UnitStatus = "pending"
	UnitStatusClaimed UnitStatus = "claimed"
	UnitStatusDone    UnitStatus = "done"
)

// UnitReport pairs a unit with its observed status
type UnitReport struct {
	Unit   WorkUnit   `json:"unit"`
	Status UnitStatus `json:"status"`
}
