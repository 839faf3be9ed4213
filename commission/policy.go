/*
policy.go - Per-category deal lifecycle and allocation policy

PURPOSE:
  Each product category carries its own status vocabulary, its own
  terminal "revenue confirmed" status, and its own initial allocation
  status. These are business policy, not derivable rules, so they live
  in an explicit lookup table rather than inferred logic.

THE TABLE:
  signage           lead_created -> {negotiating, contract_signed, lost}
                    terminal: construction_complete; rewards unconfirmed
  hotel_membership  applied -> {lost}
                    terminal: payment_complete; rewards confirmed
                    (payment settles instantly, so no operator step)
  ad_slot           applied -> {under_review, lost}
                    terminal: published; rewards unconfirmed

  Intermediate transitions are intentionally permissive: any order
  within the set, while the deal is unlocked. Only membership is checked.

SEE ALSO:
  - types.go: DealStatus and AllocationStatus values
  - engine: enforcement at the command boundary
*/
package commission

// CategoryPolicy fixes the lifecycle for one product type.
type CategoryPolicy struct {
	// InitialStatus is assigned at deal creation.
	InitialStatus DealStatus

	// IntermediateStatuses is the allowed set for UpdateStatus while
	// the deal is unlocked. Includes the initial status.
	IntermediateStatuses []DealStatus

	// TerminalStatus is assigned by the finalize transition only.
	TerminalStatus DealStatus

	// InitialAllocationStatus is the status stamped on the two user
	// reward allocations at finalization.
	InitialAllocationStatus AllocationStatus
}

var categoryPolicies = map[ProductType]CategoryPolicy{
	TypeSignage: {
		InitialStatus: StatusLeadCreated,
		IntermediateStatuses: []DealStatus{
			StatusLeadCreated, StatusNegotiating, StatusContractSigned, StatusLost,
		},
		TerminalStatus:          StatusConstructionComplete,
		InitialAllocationStatus: AllocationUnconfirmed,
	},
	TypeHotelMembership: {
		InitialStatus: StatusApplied,
		IntermediateStatuses: []DealStatus{
			StatusApplied, StatusLost,
		},
		TerminalStatus: StatusPaymentComplete,
		// Hotel membership settles at payment time, so allocations
		// skip the operator confirmation step.
		InitialAllocationStatus: AllocationConfirmed,
	},
	TypeAdSlot: {
		InitialStatus: StatusApplied,
		IntermediateStatuses: []DealStatus{
			StatusApplied, StatusUnderReview, StatusLost,
		},
		TerminalStatus:          StatusPublished,
		InitialAllocationStatus: AllocationUnconfirmed,
	},
}

// PolicyFor returns the lifecycle policy for a product type.
func PolicyFor(pt ProductType) (CategoryPolicy, bool) {
	p, ok := categoryPolicies[pt]
	return p, ok
}

// AllowsIntermediate reports whether s is a legal non-terminal status for
// this category.
func (p CategoryPolicy) AllowsIntermediate(s DealStatus) bool {
	for _, allowed := range p.IntermediateStatuses {
		if allowed == s {
			return true
		}
	}
	return false
}
