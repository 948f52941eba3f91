package shadow

import (
	"sort"
	"time"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// ApplyExceptions removes findings whose code matches an active exception
// and records each suppression. Exceptions are active while
// expiresAt >= now; when several share a code the first in check:expiresAt
// order takes the attribution. Expired or unparsable records are inert.
func ApplyExceptions(findings []contracts.ShadowFinding, exceptions []contracts.ExceptionRecord, now time.Time) ([]contracts.ShadowFinding, []contracts.AppliedException) {
	active := make([]contracts.ExceptionRecord, 0, len(exceptions))
	for _, ex := range exceptions {
		expires, err := time.Parse(time.RFC3339, ex.ExpiresAt)
		if err != nil || expires.Before(now) {
			continue
		}
		active = append(active, ex)
	}
	sort.SliceStable(active, func(i, j int) bool {
		ki := active[i].Check + ":" + active[i].ExpiresAt
		kj := active[j].Check + ":" + active[j].ExpiresAt
		return ki < kj
	})

	byCode := map[string]contracts.ExceptionRecord{}
	for _, ex := range active {
		if _, taken := byCode[ex.Check]; !taken {
			byCode[ex.Check] = ex
		}
	}

	var retained []contracts.ShadowFinding
	var applied []contracts.AppliedException
	for _, f := range findings {
		ex, suppressed := byCode[f.Code]
		if !suppressed {
			retained = append(retained, f)
			continue
		}
		applied = append(applied, contracts.AppliedException{
			Check:     ex.Check,
			Reason:    ex.Reason,
			ExpiresAt: ex.ExpiresAt,
			Domain:    f.Domain,
		})
	}
	return retained, applied
}
