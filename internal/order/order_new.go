// Order lifecycle: new order submission, acknowledgement, and rejection.
package order

// =============================================================================
// New order
// =============================================================================

// applyNewOrder queues a new order on first submission: Unset -> Received
// -> Queued, matching spec.md's "Received -> Queued on send to market".
func (o *Order) applyNewOrder(txn Txn) error {
	if err := o.requireState(txn, Unset); err != nil {
		return err
	}
	o.NewOrderTxn = txn
	o.transition(Received)
	o.transition(Queued)
	return nil
}

// applyOrdered acknowledges a queued/sent order: Queued|Sent -> Sent ->
// Acknowledged. PendingFill is also accepted: a fill that arrives before
// its own order's ack parks the order there, and the Ordered that follows
// still resolves it to Acknowledged. A Modify-on-queue pending transaction
// advances from Deferred once the underlying order is acknowledged.
func (o *Order) applyOrdered(txn Txn) error {
	if err := o.requireState(txn, Queued, Sent, PendingFill); err != nil {
		return err
	}
	if o.State != PendingFill {
		o.transition(Sent)
	}
	o.LastAck = txn
	o.transition(Acknowledged)
	o.advancePendingModify()
	return nil
}

// applyReject rejects a queued/sent new order: the order never reaches the
// market and moves straight to Rejected.
func (o *Order) applyReject(txn Txn) error {
	if err := o.requireState(txn, Queued, Sent); err != nil {
		return err
	}
	o.LastAck = txn
	o.transition(Rejected)
	return nil
}
