// Order lifecycle: executions and terminal close.
package order

// =============================================================================
// Fill
// =============================================================================

// applyFill records an execution against one leg, advancing cumQty/leavesQty
// and enforcing cumQty <= orderQty. A fill observed before its own order's
// ack (Queued/Sent) parks the order in PendingFill until the Ordered
// transaction arrives, per spec.md's "Acknowledged -> PendingFill ->
// Acknowledged spanning fills that precede their own ack".
func (o *Order) applyFill(txn Txn) error {
	if err := o.requireState(txn, Queued, Sent, Acknowledged, PendingFill); err != nil {
		return err
	}
	if txn.Fill == nil || o.NewOrderTxn.NewOrder == nil {
		return &ErrProtocol{Kind: txn.Kind, State: o.State, Want: "a fill against a known leg"}
	}
	legs := o.NewOrderTxn.NewOrder.Legs
	if int(txn.Leg) >= len(legs) {
		return &ErrProtocol{Kind: txn.Kind, State: o.State, Want: "a valid leg index"}
	}

	leg := &legs[txn.Leg]
	newCum := leg.CumQty.Add(txn.Fill.LastQty)
	if newCum.Cmp(leg.OrderQty) > 0 {
		return &ErrProtocol{Kind: txn.Kind, State: o.State, Want: "cumQty <= orderQty"}
	}
	leg.CumQty = newCum
	leg.CumValue = leg.CumValue.Add(txn.Fill.LastQty.Mul(txn.Fill.LastPx))

	o.LastExec = txn
	preAckFill := o.State == Queued || o.State == Sent
	if preAckFill {
		o.transition(PendingFill)
	}
	return nil
}

// =============================================================================
// Close
// =============================================================================

// applyClosed closes an order for a reason other than cancel/reject (e.g.
// market-driven expiry). Any live state may close.
func (o *Order) applyClosed(txn Txn) error {
	if o.State == Unset || o.State == Closed || o.State == Rejected {
		return &ErrProtocol{Kind: txn.Kind, State: o.State, Want: "a live order"}
	}
	o.LastExec = txn
	o.transition(Closed)
	return nil
}
