package authz

import (
	"net"
	"time"
)

// Condition keys form a closed schema. Unknown keys fail closed: a
// condition the evaluator does not understand denies the grant.
const (
	condTimeRestriction = "time_restriction"
	condIPRestriction   = "ip_restriction"
	condOwnership       = "ownership"
	condMFARequired     = "mfa_required"
)

// evalConditions reports whether every condition in the map holds for the
// request context. An empty map holds trivially.
func evalConditions(conditions map[string]any, req *Request, now time.Time) bool {
	for key, raw := range conditions {
		switch key {
		case condTimeRestriction:
			if !evalTimeRestriction(raw, now) {
				return false
			}
		case condIPRestriction:
			if !evalIPRestriction(raw, req.IP) {
				return false
			}
		case condOwnership:
			if !evalOwnership(raw, req) {
				return false
			}
		case condMFARequired:
			if !evalMFARequired(raw, req) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// evalTimeRestriction checks current local hour in [start_hour, end_hour)
// for the configured timezone.
func evalTimeRestriction(raw any, now time.Time) bool {
	m, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	start, ok := asInt(m["start_hour"])
	if !ok {
		return false
	}
	end, ok := asInt(m["end_hour"])
	if !ok {
		return false
	}

	local := now
	if tz, ok := m["timezone"].(string); ok && tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return false
		}
		local = now.In(loc)
	}

	hour := local.Hour()
	if start <= end {
		return hour >= start && hour < end
	}
	// Window wraps midnight (e.g. 22 → 6).
	return hour >= start || hour < end
}

// evalIPRestriction checks the caller IP against the allowed CIDRs.
func evalIPRestriction(raw any, ipStr string) bool {
	m, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	ranges, ok := m["allowed_ranges"].([]any)
	if !ok || len(ranges) == 0 {
		return false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, r := range ranges {
		cidr, ok := r.(string)
		if !ok {
			continue
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// evalOwnership requires attributes.resource_owner_id to equal the
// requesting user when require_owner is set.
func evalOwnership(raw any, req *Request) bool {
	m, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	require, ok := m["require_owner"].(bool)
	if !ok {
		return false
	}
	if !require {
		return true
	}
	owner, ok := req.Attributes["resource_owner_id"].(string)
	if !ok {
		return false
	}
	return owner == req.UserID.String()
}

// evalMFARequired requires attributes.mfa_verified when set.
func evalMFARequired(raw any, req *Request) bool {
	require, ok := raw.(bool)
	if !ok {
		return false
	}
	if !require {
		return true
	}
	verified, ok := req.Attributes["mfa_verified"].(bool)
	return ok && verified
}

// asInt tolerates JSON numbers decoded as float64 alongside native ints.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
