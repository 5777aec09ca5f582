package verifytoken

import (
	"captcha-relay/internal/common/errors"
	commonhttp "captcha-relay/internal/common/http"
	"captcha-relay/internal/common/logger"
	"captcha-relay/internal/common/observability"
)

type Input struct {
	Token    string `json:"token"`
	ClientIP string `json:"-"`
}

type Outcome string

const (
	OutcomeVerified Outcome = "VERIFIED"
	OutcomeRejected Outcome = "REJECTED"
)

// Output is what the browser sees. Outcome and Reason stay server side.
type Output struct {
	Success     bool   `json:"success"`
	ChallengeTS string `json:"challenge_ts,omitempty"`
	Hostname    string `json:"hostname,omitempty"`

	Outcome Outcome          `json:"-"`
	Reason  errors.ErrorCode `json:"-"`
}

func rejected(reason errors.ErrorCode) *Output {
	return &Output{Success: false, Outcome: OutcomeRejected, Reason: reason}
}

type ServiceDependencies struct {
	Logger        logger.Logger
	HTTPClient    *commonhttp.Client
	Observability *observability.Observability
}
