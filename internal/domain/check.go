package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// тип проверки, которую агенты выполняют для цели

type CheckType string

const (
	CheckTypePing       CheckType = "ping"
	CheckTypeHTTP       CheckType = "http"
	CheckTypeHTTPS      CheckType = "https"
	CheckTypeTCP        CheckType = "tcp"
	CheckTypeTraceroute CheckType = "traceroute"
	CheckTypeDNS        CheckType = "dns"
)

// CheckTypes lists every check kind the backend accepts, in display order.
var CheckTypes = []CheckType{
	CheckTypePing,
	CheckTypeHTTP,
	CheckTypeHTTPS,
	CheckTypeTCP,
	CheckTypeTraceroute,
	CheckTypeDNS,
}

func (t CheckType) Valid() bool {
	for _, known := range CheckTypes {
		if t == known {
			return true
		}
	}
	return false
}

const MaxTargetLength = 255

var targetRegexp = regexp.MustCompile(`^[a-zA-Z0-9.-]+(?::\d+)?$`)

var (
	ErrEmptyTarget   = errors.New("target is required")
	ErrTargetTooLong = fmt.Errorf("target exceeds %d characters", MaxTargetLength)
	ErrInvalidTarget = errors.New("target must be a hostname or IP address with an optional :port")
	ErrNoChecks      = errors.New("at least one check type is required")
	ErrUnknownCheck  = errors.New("unknown check type")
)

// CheckRequest is the body of POST /check.
type CheckRequest struct {
	Target string      `json:"target"`
	Checks []CheckType `json:"checks"`
}

// NewCheckRequest validates user input and builds a request. The target is
// trimmed and duplicate check types are dropped, keeping the first occurrence.
func NewCheckRequest(target string, checks []CheckType) (CheckRequest, error) {
	target = strings.TrimSpace(target)

	if err := ValidateTarget(target); err != nil {
		return CheckRequest{}, err
	}
	if len(checks) == 0 {
		return CheckRequest{}, ErrNoChecks
	}

	seen := make(map[CheckType]struct{}, len(checks))
	unique := make([]CheckType, 0, len(checks))
	for _, c := range checks {
		if !c.Valid() {
			return CheckRequest{}, fmt.Errorf("%w: %q", ErrUnknownCheck, c)
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		unique = append(unique, c)
	}

	return CheckRequest{Target: target, Checks: unique}, nil
}

// ValidateTarget checks a hostname or IP with an optional :port.
func ValidateTarget(target string) error {
	switch {
	case target == "":
		return ErrEmptyTarget
	case len(target) > MaxTargetLength:
		return ErrTargetTooLong
	case !targetRegexp.MatchString(target):
		return ErrInvalidTarget
	}
	return nil
}

// ParseCheckTypes splits a comma separated list such as "ping,http".
func ParseCheckTypes(raw string) []CheckType {
	var out []CheckType
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		out = append(out, CheckType(part))
	}
	return out
}

// CreateCheckResponse is returned by POST /check.
type CreateCheckResponse struct {
	CheckID string `json:"checkId"`
}
