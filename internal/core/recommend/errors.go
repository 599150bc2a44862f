package recommend

import (
	"context"
	"errors"
	"fmt"
)

// 請求層級的失敗類型，以 errors.Is 判斷
var (
	ErrInsufficientCandidates       = errors.New("insufficient candidates")
	ErrOracleTransport              = errors.New("oracle transport error")
	ErrOracleResponseMalformed      = errors.New("oracle response malformed")
	ErrInsufficientValidatedResults = errors.New("insufficient validated results")

	ErrInvalidProfile  = errors.New("invalid taste profile")
	ErrProfileNotFound = errors.New("taste profile not found")
	ErrInvalidRequest  = errors.New("invalid recommendation request")
)

// 流程階段
const (
	StageRequest  = "request"
	StageProfile  = "profile"
	StageSelect   = "select"
	StageOracle   = "oracle"
	StageParse    = "parse"
	StageAssemble = "assemble"
)

// PipelineError 請求層級的流程失敗
type PipelineError struct {
	Kind     error
	Stage    string
	Got      int
	Need     int
	Attempts int
	Err      error
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	if e.Need > 0 {
		msg += fmt.Sprintf(" (got %d, need %d)", e.Got, e.Need)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is 以失敗類型比對
func (e *PipelineError) Is(target error) bool {
	return e.Kind == target
}

// Unwrap 返回原始錯誤
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Outcome 標籤值
const (
	OutcomeSuccess                = "success"
	OutcomeInsufficientCandidates = "insufficient_candidates"
	OutcomeOracleTransport        = "oracle_transport"
	OutcomeOracleMalformed        = "oracle_malformed"
	OutcomeInsufficientValidated  = "insufficient_validated"
	OutcomeCanceled               = "canceled"
	OutcomeProfileError           = "profile_error"
	OutcomeProfileNotFound        = "profile_not_found"
	OutcomeInvalidRequest         = "invalid_request"
	OutcomeInternal               = "internal"
)

// OutcomeOf 將錯誤對應為結果標籤（用於指標與遙測）
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrOracleTransport):
		return OutcomeCanceled
	case errors.Is(err, ErrInsufficientCandidates):
		return OutcomeInsufficientCandidates
	case errors.Is(err, ErrOracleTransport):
		return OutcomeOracleTransport
	case errors.Is(err, ErrOracleResponseMalformed):
		return OutcomeOracleMalformed
	case errors.Is(err, ErrInsufficientValidatedResults):
		return OutcomeInsufficientValidated
	case errors.Is(err, ErrInvalidProfile):
		return OutcomeProfileError
	case errors.Is(err, ErrProfileNotFound):
		return OutcomeProfileNotFound
	case errors.Is(err, ErrInvalidRequest):
		return OutcomeInvalidRequest
	default:
		return OutcomeInternal
	}
}
