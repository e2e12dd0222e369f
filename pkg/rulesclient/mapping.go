package rulesclient

import "github.com/checkpointly/scanvalidator/pkg/contracts"

// upstreamCodeMapping is spec.md §4.2's error mapping table: rules
// service codes translate to the orchestrator's canonical set. Any code
// absent from this table maps to INVALID, per the spec's explicit
// tie-break (a).
var upstreamCodeMapping = map[string]contracts.ErrorCode{
	"TICKET_NOT_FOUND":    contracts.ErrInvalid,
	"TICKET_ALREADY_USED": contracts.ErrAlreadyUsed,
	"TICKET_EXPIRED":      contracts.ErrExpired,
	"EVENT_NOT_FOUND":     contracts.ErrNotAuthorized,
	"USER_NOT_AUTHORIZED": contracts.ErrNotAuthorized,
	"ZONE_ACCESS_DENIED":  contracts.ErrNotAuthorized,
	"TIME_ACCESS_DENIED":  contracts.ErrNotAuthorized,
	"EVENT_NOT_ACTIVE":    contracts.ErrEventClosed,
	"EVENT_ENDED":         contracts.ErrEventClosed,
}

// MapUpstreamCode translates an upstream rules-service failure code to
// the orchestrator's canonical error code.
func MapUpstreamCode(upstreamCode string) contracts.ErrorCode {
	if code, ok := upstreamCodeMapping[upstreamCode]; ok {
		return code
	}
	return contracts.ErrInvalid
}
