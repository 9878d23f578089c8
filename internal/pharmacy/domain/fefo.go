package domain

// LotQuantity is a dispensable lot and its current quantity, in FEFO order
type LotQuantity struct {
	LotID    string
	Quantity int
}

// Allocation is the quantity to take from one lot
type Allocation struct {
	LoteID   string `json:"lote_id"`
	Cantidad int    `json:"cantidad"`
}

// AllocateFEFO walks lots in the given order, which must already be
// ascending expiry, taking from each until requested is covered. It returns
// the plan and the units that could not be covered.
func AllocateFEFO(lots []LotQuantity, requested int) ([]Allocation, int) {
	remaining := requested
	var plan []Allocation
	for _, lot := range lots {
		if remaining <= 0 {
			break
		}
		if lot.Quantity <= 0 {
			continue
		}
		take := lot.Quantity
		if take > remaining {
			take = remaining
		}
		plan = append(plan, Allocation{LoteID: lot.LotID, Cantidad: take})
		remaining -= take
	}
	if remaining < 0 {
		remaining = 0
	}
	return plan, remaining
}
