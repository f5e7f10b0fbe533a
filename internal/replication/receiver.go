package replication

import "github.com/latticefin/rtdb/pkg/logging"

// Applier is the subset of pipeline.Pipeline a Receiver needs: applying a
// replicated row mutation under the UN the primary dictated.
type Applier interface {
	ApplyReplicated(un uint64, primaryKey, body []byte, tombstone bool, cb func(error))
}

// Receiver drives one Channel's inbound side: it tracks per-table UN
// ordering via Tracker and applies in-order Appends to the matching table's
// Applier, switching to a Recover/RecoverChunk/End exchange on any gap.
type Receiver struct {
	ch      *Channel
	tracker *Tracker
	tables  map[uint16]Applier
	log     *logging.Logger
}

// NewReceiver returns a Receiver dispatching Appends by table id to tables.
func NewReceiver(ch *Channel, tables map[uint16]Applier) *Receiver {
	return &Receiver{
		ch:      ch,
		tracker: NewTracker(),
		tables:  tables,
		log:     logging.GetDefault().Component("replication-receiver"),
	}
}

// Run processes frames from the channel until it errors or closes. sendRecover
// is invoked with the table id and the UN to recover from whenever a gap is
// detected; the caller (typically wiring to a Sender on the same logical
// connection) is responsible for actually issuing the Recover frame.
func (r *Receiver) Run(sendRecover func(tableID uint16, fromUN uint64)) error {
	for {
		msg, err := r.ch.Receive()
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case *Heartbeat:
			// Heartbeats carry nothing to apply; Run discards them without
			// passing them to the caller.

		case *Append:
			switch r.tracker.Observe(m.TableID, m.UN) {
			case Apply:
				r.applyAppend(m)
			case Duplicate:
				// already applied; idempotent no-op
			case Gap:
				r.log.Warn("replication gap detected, entering recovery",
					"table", m.TableID, "un", m.UN, "last_applied", r.tracker.LastApplied(m.TableID))
				if sendRecover != nil {
					sendRecover(m.TableID, r.tracker.LastApplied(m.TableID)+1)
				}
			case Recovering:
				// table already recovering; live appends are dropped until
				// End closes the recovery stream and resumes live application
			}

		case *RecoverChunk:
			r.applyRecoverChunk(m)

		case *End:
			r.tracker.EndRecovery(m.TableID, m.ToUN)

		case *Recover:
			// Recover requests are handled by the sending side of the
			// connection (the primary), not by this inbound Receiver.
		}
	}
}

func (r *Receiver) applyAppend(a *Append) {
	applier, ok := r.tables[a.TableID]
	if !ok {
		r.log.Warn("append for unknown table", "table", a.TableID)
		return
	}
	applier.ApplyReplicated(a.UN, a.PrimaryKey, a.RowBuf, a.Op == OpTombstone, func(err error) {
		if err != nil {
			r.log.Warn("failed to apply replicated append", "table", a.TableID, "un", a.UN, "error", err)
		}
	})
}

func (r *Receiver) applyRecoverChunk(rc *RecoverChunk) {
	applier, ok := r.tables[rc.TableID]
	if !ok {
		r.log.Warn("recover chunk for unknown table", "table", rc.TableID)
		return
	}
	applier.ApplyReplicated(rc.UN, rc.PrimaryKey, rc.RowBuf, rc.Op == OpTombstone, func(err error) {
		if err != nil {
			r.log.Warn("failed to apply recovery chunk", "table", rc.TableID, "un", rc.UN, "error", err)
		}
		r.tracker.ApplyRecoverChunk(rc.TableID, rc.UN)
	})
}
