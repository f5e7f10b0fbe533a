package order

// Header is common to every transaction body.
type Header struct {
	Kind  Kind
	State State
	Flags Flags
	Leg   uint8
}

// Leg carries the order-quantity bookkeeping for one instrument within a
// (potentially multi-leg) order.
type Leg struct {
	Side     string
	OrdType  string
	Price    Qty
	OrderQty Qty
	CumQty   Qty
	CumValue Qty
}

// LeavesQty returns max(orderQty-cumQty, 0), per spec.md §4.10's invariant.
func (l Leg) LeavesQty() Qty {
	d := l.OrderQty.Sub(l.CumQty)
	if d.Mantissa < 0 {
		return Qty{NDP: d.NDP}
	}
	return d
}

// Filled reports whether the leg's cumulative quantity has reached its
// order quantity.
func (l Leg) Filled() bool { return l.CumQty.Cmp(l.OrderQty) >= 0 }

// NewOrderBody is the request+ack payload for a new order.
type NewOrderBody struct {
	ClOrdID string
	TIF     string
	Legs    []Leg
}

// OrderedBody acknowledges a NewOrder.
type OrderedBody struct {
	Legs []Leg
}

// ModifyBody is the request+ack payload for an order modification.
type ModifyBody struct {
	TIF       string
	ModifyCxl bool // synthetic cancel/replace in progress
	ModifyNew bool // new order/ack following modify-on-queue
	Legs      []Leg
}

// ModifiedBody acknowledges a Modify.
type ModifiedBody struct {
	Legs []Leg
}

// CancelBody is the request+ack payload for an order cancellation.
type CancelBody struct {
	Legs []Leg
}

// CanceledBody acknowledges a Cancel.
type CanceledBody struct {
	Legs []Leg
}

// FillBody reports a (partial or full) execution against one leg.
type FillBody struct {
	LastPx  Qty
	LastQty Qty
}

// ClosedBody marks an order closed (e.g. expired).
type ClosedBody struct{}

// RejectBody is the generic reject payload shared by Reject/ModReject/
// CxlReject/ModRejectCxl.
type RejectBody struct {
	Code   int
	Reason RejectReason
}

// Txn is a tagged union holding exactly one event body, mirroring the
// fixed-size POD buffer union of the source: Header plus one of the
// type-specific bodies below, discriminated by Header.Kind.
type Txn struct {
	Header

	NewOrder *NewOrderBody
	Ordered  *OrderedBody
	Reject   *RejectBody

	Modify   *ModifyBody
	Modified *ModifiedBody

	Cancel   *CancelBody
	Canceled *CanceledBody

	Fill   *FillBody
	Closed *ClosedBody
}

func newTxn(kind Kind, state State, flags Flags, leg uint8) Txn {
	return Txn{Header: Header{Kind: kind, State: state, Flags: flags, Leg: leg}}
}

// NewOrderTxn constructs a NewOrder transaction in Received state.
func NewOrderTxn(body NewOrderBody) Txn {
	t := newTxn(KindNewOrder, Received, FlagRx, 0)
	t.NewOrder = &body
	return t
}

// OrderedTxn constructs an Ordered (acknowledgement) transaction.
func OrderedTxn(body OrderedBody) Txn {
	t := newTxn(KindOrdered, Acknowledged, FlagAck, 0)
	t.Ordered = &body
	return t
}

// RejectTxn constructs a Reject transaction.
func RejectTxn(body RejectBody) Txn {
	t := newTxn(KindReject, Rejected, FlagAck, 0)
	t.Reject = &body
	return t
}

// ModifyTxn constructs a Modify request transaction.
func ModifyTxn(body ModifyBody) Txn {
	t := newTxn(KindModify, Received, FlagRx, 0)
	t.Modify = &body
	return t
}

// ModSimulatedTxn constructs a ModSimulated transaction (a modify accepted
// but simulated as a synthetic cancel/replace).
func ModSimulatedTxn(body ModifyBody) Txn {
	t := newTxn(KindModSimulated, Received, FlagRx|FlagSynthetic, 0)
	t.Modify = &body
	return t
}

// ModifiedTxn constructs a Modified (modify acknowledgement) transaction.
func ModifiedTxn(body ModifiedBody) Txn {
	t := newTxn(KindModified, Acknowledged, FlagAck, 0)
	t.Modified = &body
	return t
}

// ModRejectTxn constructs a ModReject transaction: the modify is rejected
// and the original order remains open.
func ModRejectTxn(body RejectBody) Txn {
	t := newTxn(KindModReject, Acknowledged, FlagAck, 0)
	t.Reject = &body
	return t
}

// ModRejectCxlTxn constructs a ModRejectCxl transaction: the modify is
// rejected and the original order is cancelled as a result.
func ModRejectCxlTxn(body RejectBody) Txn {
	t := newTxn(KindModRejectCxl, Closed, FlagAck, 0)
	t.Reject = &body
	return t
}

// CancelTxn constructs a Cancel request transaction.
func CancelTxn(body CancelBody) Txn {
	t := newTxn(KindCancel, Received, FlagRx, 0)
	t.Cancel = &body
	return t
}

// CanceledTxn constructs a Canceled (cancel acknowledgement) transaction.
func CanceledTxn(body CanceledBody) Txn {
	t := newTxn(KindCanceled, Closed, FlagAck, 0)
	t.Canceled = &body
	return t
}

// CxlRejectTxn constructs a CxlReject transaction: the cancel is rejected,
// the order the cancel targeted remains open.
func CxlRejectTxn(body RejectBody) Txn {
	t := newTxn(KindCxlReject, Acknowledged, FlagAck, 0)
	t.Reject = &body
	return t
}

// FillTxn constructs a Fill transaction against a specific leg.
func FillTxn(leg uint8, body FillBody) Txn {
	t := newTxn(KindFill, PendingFill, FlagAck, leg)
	t.Fill = &body
	return t
}

// ClosedTxn constructs a Closed transaction (expiry or other terminal
// close not covered by Canceled/Rejected).
func ClosedTxn() Txn {
	t := newTxn(KindClosed, Closed, FlagAck, 0)
	t.Closed = &ClosedBody{}
	return t
}
