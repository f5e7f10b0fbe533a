// Order lifecycle: modify requests, modify-on-queue deferral, and modify
// acknowledgement/rejection.
package order

// =============================================================================
// Modify
// =============================================================================

// applyModify accepts a modify request. If the underlying order has not yet
// been acknowledged ("modify-on-queue"), the pending modify is held
// Deferred until the Ordered ack arrives; otherwise it is queued to market
// immediately. At most one modify may be pending at a time.
func (o *Order) applyModify(txn Txn) error {
	if err := o.requireState(txn, Queued, Sent, Acknowledged); err != nil {
		return err
	}
	if o.PendingModifyTxn != nil {
		return ErrPendingExists
	}

	pending := txn
	if o.State == Acknowledged {
		pending.State = Queued
	} else {
		pending.State = Deferred
	}
	o.PendingModifyTxn = &pending
	return nil
}

// advancePendingModify moves a Deferred pending modify to Queued once the
// order it was waiting on has been acknowledged.
func (o *Order) advancePendingModify() {
	if o.PendingModifyTxn != nil && o.PendingModifyTxn.State == Deferred {
		o.PendingModifyTxn.State = Queued
	}
}

// applyModified acknowledges the pending modify, folding its legs into the
// order's new-order leg state and clearing the pending slot.
func (o *Order) applyModified(txn Txn) error {
	if o.PendingModifyTxn == nil {
		return &ErrProtocol{Kind: txn.Kind, State: o.State, Want: "a pending modify"}
	}
	if err := o.requireState(txn, Acknowledged); err != nil {
		return err
	}
	if txn.Modified != nil {
		o.mergeModifiedLegs(txn.Modified.Legs)
	}
	o.LastAck = txn
	o.PendingModifyTxn = nil
	return nil
}

// applyModReject rejects the pending modify, leaving the original order
// open and acknowledged.
func (o *Order) applyModReject(txn Txn) error {
	if o.PendingModifyTxn == nil {
		return &ErrProtocol{Kind: txn.Kind, State: o.State, Want: "a pending modify"}
	}
	if err := o.requireState(txn, Acknowledged); err != nil {
		return err
	}
	o.LastAck = txn
	o.PendingModifyTxn = nil
	return nil
}

// applyModRejectCxl rejects the pending modify and, unlike ModReject,
// cancels the original order as a consequence.
func (o *Order) applyModRejectCxl(txn Txn) error {
	if o.PendingModifyTxn == nil {
		return &ErrProtocol{Kind: txn.Kind, State: o.State, Want: "a pending modify"}
	}
	if err := o.requireState(txn, Acknowledged); err != nil {
		return err
	}
	o.LastAck = txn
	o.PendingModifyTxn = nil
	o.transition(Closed)
	return nil
}

// mergeModifiedLegs applies a Modified ack's leg values onto the order's
// current leg state (price/quantity/tif changes negotiated by the modify).
func (o *Order) mergeModifiedLegs(legs []Leg) {
	if o.NewOrderTxn.NewOrder == nil {
		return
	}
	current := o.NewOrderTxn.NewOrder.Legs
	for i, l := range legs {
		if i < len(current) {
			current[i].Price = l.Price
			current[i].OrderQty = l.OrderQty
		}
	}
}
