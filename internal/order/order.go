package order

import "github.com/latticefin/rtdb/pkg/logging"

// Order aggregates the current order transaction together with at most one
// pending modify and at most one pending cancel, plus the last ack/exec
// seen, per spec.md §4.10.
type Order struct {
	ID string

	NewOrderTxn      Txn
	PendingModifyTxn *Txn
	PendingCancelTxn *Txn
	LastAck          Txn
	LastExec         Txn

	State State
	log   *logging.Logger
}

// New starts an Order in Unset state, ready to accept a NewOrder
// transaction.
func New(id string) *Order {
	return &Order{ID: id, State: Unset, log: logging.GetDefault().Component("order")}
}

// Apply applies txn against the order's current state, following the
// transitions in spec.md §4.10. A transaction inconsistent with the
// current state is rejected synchronously as a protocol error and the
// order's state is left unchanged.
func (o *Order) Apply(txn Txn) error {
	switch txn.Kind {
	case KindNewOrder:
		return o.applyNewOrder(txn)
	case KindOrdered:
		return o.applyOrdered(txn)
	case KindReject:
		return o.applyReject(txn)
	case KindModify, KindModSimulated:
		return o.applyModify(txn)
	case KindModified:
		return o.applyModified(txn)
	case KindModReject:
		return o.applyModReject(txn)
	case KindModRejectCxl:
		return o.applyModRejectCxl(txn)
	case KindCancel:
		return o.applyCancel(txn)
	case KindCanceled:
		return o.applyCanceled(txn)
	case KindCxlReject:
		return o.applyCxlReject(txn)
	case KindFill:
		return o.applyFill(txn)
	case KindClosed:
		return o.applyClosed(txn)
	default:
		return &ErrProtocol{Kind: txn.Kind, State: o.State, Want: "a known transaction kind"}
	}
}

// transition sets the order's state unconditionally; callers have already
// validated the prior state.
func (o *Order) transition(to State) {
	if o.State != to {
		o.log.Debug("order state transition", "order_id", o.ID, "from", o.State, "to", to)
	}
	o.State = to
}

// requireState rejects txn as a protocol error unless the order is
// currently in one of the allowed states.
func (o *Order) requireState(txn Txn, allowed ...State) error {
	for _, s := range allowed {
		if o.State == s {
			return nil
		}
	}
	return &ErrProtocol{Kind: txn.Kind, State: o.State, Want: stateList(allowed)}
}

func stateList(states []State) string {
	if len(states) == 0 {
		return "no state"
	}
	out := states[0].String()
	for _, s := range states[1:] {
		out += "|" + s.String()
	}
	return out
}
