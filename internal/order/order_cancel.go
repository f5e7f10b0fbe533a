// Order lifecycle: cancel requests and cancel acknowledgement/rejection.
package order

// =============================================================================
// Cancel
// =============================================================================

// applyCancel accepts a cancel request against a live order. At most one
// cancel may be pending at a time; a pending modify is carried through
// unresolved (the market resolves cancel-vs-modify races).
func (o *Order) applyCancel(txn Txn) error {
	if err := o.requireState(txn, Queued, Sent, Acknowledged, PendingFill); err != nil {
		return err
	}
	if o.PendingCancelTxn != nil {
		return ErrPendingExists
	}
	o.PendingCancelTxn = &txn
	return nil
}

// applyCanceled acknowledges the pending cancel, moving the order to its
// terminal Closed state.
func (o *Order) applyCanceled(txn Txn) error {
	if o.PendingCancelTxn == nil {
		return &ErrProtocol{Kind: txn.Kind, State: o.State, Want: "a pending cancel"}
	}
	o.LastAck = txn
	o.PendingCancelTxn = nil
	o.transition(Closed)
	return nil
}

// applyCxlReject rejects the pending cancel; the order the cancel targeted
// remains open at whatever state it was in.
func (o *Order) applyCxlReject(txn Txn) error {
	if o.PendingCancelTxn == nil {
		return &ErrProtocol{Kind: txn.Kind, State: o.State, Want: "a pending cancel"}
	}
	o.LastAck = txn
	o.PendingCancelTxn = nil
	return nil
}
