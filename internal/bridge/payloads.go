package bridge

import "github.com/xkilldash9x/telco-harvester/api/schemas"

// AuthenticatedPayload accompanies TypeAuthenticated. Credentials holds what
// the user typed in the login form, if anything was captured.
type AuthenticatedPayload struct {
	URL         string
	Credentials schemas.Credentials
}

// Stage identifies a step of a harvest run.
type Stage string

const (
	StageAuthenticated Stage = "authenticated"
	StageIdentity      Stage = "identity"
	StageContracts     Stage = "contracts"
	StageBills         Stage = "bills"
	StageSaved         Stage = "saved"
)

// Progress accompanies TypeProgress.
type Progress struct {
	RunID    string
	Stage    Stage
	Contract string
	Count    int
}
