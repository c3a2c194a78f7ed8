package pipeline

// Stage names the per-request state machine position. It drives no
// branching by itself — every transition is the structural result of a
// stage returning Err — and no engine, logging or metrics code references
// it; it documents the "no backward transitions" invariant by naming only
// the forward path.
type Stage string

const (
	StageReceived    Stage = "RECEIVED"
	StageAuth        Stage = "AUTH"
	StageAccessCtrl  Stage = "ACCESS_CONTROL"
	StagePreGlobal   Stage = "PRE_GLOBAL"
	StagePreHooks    Stage = "PRE_HOOKS"
	StageValidate    Stage = "VALIDATE"
	StageHandle      Stage = "HANDLE"
	StagePostHooks   Stage = "POST_HOOKS"
	StagePostGlobal  Stage = "POST_GLOBAL"
	StageDone        Stage = "DONE"
)
