// Package service implements the role lifecycle engine: the policy gate,
// the grant/revocation paths, and the two periodic sweeps.
package service

import "roleledger/internal/domain"

// CheckPolicy evaluates a rule set's allow/deny policy against the acting
// account's current role set. The check is advisory and runs before any
// transaction: a concurrent role change between this check and the grant is
// accepted as a rare, non-corrupting race.
func CheckPolicy(memberRoles []string, p *domain.Policy) error {
	if p == nil {
		return nil
	}
	if len(p.AllowRoles) > 0 && !holdsAny(memberRoles, p.AllowRoles) {
		return &domain.PolicyDeniedError{Reason: domain.DenyNotWhitelisted}
	}
	if holdsAny(memberRoles, p.DenyRoles) {
		return &domain.PolicyDeniedError{Reason: domain.DenyBlacklisted}
	}
	return nil
}

func holdsAny(held, wanted []string) bool {
	for _, w := range wanted {
		for _, h := range held {
			if h == w {
				return true
			}
		}
	}
	return false
}
