package domain

// PoolMembership records that the account holds a position, staked or
// not, in one pool.
type PoolMembership struct {
	PoolID  string // pool identifier
	Balance string // receipt-token balance held, decimal string
}

// MembershipPoolIDs returns the pool identifiers of the memberships in
// their original order.
func MembershipPoolIDs(memberships []PoolMembership) []string {
	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.PoolID)
	}
	return ids
}
