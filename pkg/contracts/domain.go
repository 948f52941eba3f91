package contracts

import "strings"

// Domain identifies one of the seven shadow risk domains.
type Domain string

// The seven domains, in canonical order.
const (
	DomainSecurity   Domain = "security"
	DomainAccess     Domain = "access"
	DomainTesting    Domain = "testing"
	DomainExecution  Domain = "execution"
	DomainScales     Domain = "scales"
	DomainValue      Domain = "value"
	DomainAesthetics Domain = "aesthetics"
)

// CanonicalDomainOrder is the default tie-break and sort order.
var CanonicalDomainOrder = []Domain{
	DomainSecurity,
	DomainAccess,
	DomainTesting,
	DomainExecution,
	DomainScales,
	DomainValue,
	DomainAesthetics,
}

// ValidDomain reports whether d names a known domain.
func ValidDomain(d Domain) bool {
	for _, known := range CanonicalDomainOrder {
		if d == known {
			return true
		}
	}
	return false
}

// CodeToken returns the domain's uppercase token used in finding codes,
// e.g. "security" -> "SECURITY".
func (d Domain) CodeToken() string {
	return strings.ToUpper(string(d))
}
