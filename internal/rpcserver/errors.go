package rpcserver

import (
	"errors"

	"github.com/antigravity-dev/agentco/internal/apperr"
	"github.com/antigravity-dev/agentco/internal/governance"
	"github.com/antigravity-dev/agentco/internal/providers"
)

// toWireError classifies err into the JSON-RPC error shape. A
// *governance.SecretDetectedError (surfaced through apperr.KindSecret)
// gets its own reason code and match counts; a *providers.PolicyDeniedError
// gets POLICY_DENIED plus the specific policy reason; a denied
// governance decision also gets POLICY_DENIED; everything else
// classified through apperr.Error gets its kind as the reason code;
// anything unclassified falls back to a bare application error.
func toWireError(err error) *WireError {
	var secretErr *governance.SecretDetectedError
	if errors.As(err, &secretErr) {
		return &WireError{
			Code:    CodeApplication,
			Message: err.Error(),
			Data: map[string]any{
				"reason_code":     "SECRET_DETECTED",
				"total_matches":   secretErr.TotalMatches,
				"matches_by_kind": secretErr.MatchesByKind,
			},
		}
	}

	var policyErr *providers.PolicyDeniedError
	if errors.As(err, &policyErr) {
		return &WireError{
			Code:    CodeApplication,
			Message: err.Error(),
			Data: map[string]any{
				"reason_code": "POLICY_DENIED",
				"reason":      policyErr.Reason,
				"provider":    policyErr.Provider,
			},
		}
	}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case apperr.KindValidation:
			return &WireError{Code: CodeInvalidParams, Message: err.Error(), Data: map[string]any{"reason_code": "VALIDATION"}}
		case apperr.KindPolicy:
			return &WireError{Code: CodeApplication, Message: err.Error(), Data: map[string]any{"reason_code": "POLICY_DENIED"}}
		case apperr.KindSecret:
			return &WireError{Code: CodeApplication, Message: err.Error(), Data: map[string]any{"reason_code": "SECRET_DETECTED"}}
		case apperr.KindNotFound:
			return &WireError{Code: CodeApplication, Message: err.Error(), Data: map[string]any{"reason_code": "NOT_FOUND"}}
		case apperr.KindConflict:
			return &WireError{Code: CodeApplication, Message: err.Error(), Data: map[string]any{"reason_code": "CONFLICT"}}
		default:
			return &WireError{Code: CodeApplication, Message: err.Error(), Data: map[string]any{"reason_code": string(ae.Kind)}}
		}
	}

	return &WireError{Code: CodeApplication, Message: err.Error()}
}
