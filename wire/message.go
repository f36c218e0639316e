// Package wire defines the peer protocol: the envelope exchanged over a
// trading room and its message bodies. Encoding is the protobuf wire
// format written directly with protowire, framed with a length and CRC32
// header for integrity.
package wire

// Kind discriminates the envelope body.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindAnnounce
	KindRetract
	KindJoin
	KindLeave
	KindProposal
	KindAccept
	KindReject
	KindLockNotice
)

func (k Kind) String() string {
	switch k {
	case KindAnnounce:
		return "announce"
	case KindRetract:
		return "retract"
	case KindJoin:
		return "join"
	case KindLeave:
		return "leave"
	case KindProposal:
		return "proposal"
	case KindAccept:
		return "accept"
	case KindReject:
		return "reject"
	case KindLockNotice:
		return "lock_notice"
	default:
		return "invalid"
	}
}

// Envelope is one room message. To is empty for broadcasts; session
// messages address a single account and are ignored by everyone else.
// Exactly one body field is set; Kind() reports which.
type Envelope struct {
	Version uint32
	To      string

	Announce   *Announce
	Retract    *Retract
	Join       *Join
	Leave      *Leave
	Proposal   *Proposal
	Accept     *Accept
	Reject     *Reject
	LockNotice *LockNotice
}

// Version of the protocol emitted by this build.
const ProtocolVersion = 1

func (e *Envelope) Kind() Kind {
	switch {
	case e.Announce != nil:
		return KindAnnounce
	case e.Retract != nil:
		return KindRetract
	case e.Join != nil:
		return KindJoin
	case e.Leave != nil:
		return KindLeave
	case e.Proposal != nil:
		return KindProposal
	case e.Accept != nil:
		return KindAccept
	case e.Reject != nil:
		return KindReject
	case e.LockNotice != nil:
		return KindLockNotice
	default:
		return KindInvalid
	}
}

// SessionID returns the session a protocol message belongs to, or "".
func (e *Envelope) SessionID() string {
	switch {
	case e.Proposal != nil:
		return e.Proposal.SessionID
	case e.Accept != nil:
		return e.Accept.SessionID
	case e.Reject != nil:
		return e.Reject.SessionID
	case e.LockNotice != nil:
		return e.LockNotice.SessionID
	default:
		return ""
	}
}

// Announce publishes one open order of the sending account.
type Announce struct {
	Asset    string
	Side     uint32 // 1 = buy, 2 = sell
	Quantity int64
	Price    int64
	Sequence uint64
}

const (
	SideBuy  uint32 = 1
	SideSell uint32 = 2
)

// Retract withdraws the sender's order with the given sequence number.
type Retract struct {
	Sequence uint64
}

// Join announces room membership. Peers answer by re-announcing their
// open orders so newcomers converge.
type Join struct{}

// Leave announces departure; peers evict the sender's open orders.
type Leave struct{}

// Proposal opens a swap session. CounterSequence names the recipient's
// order, InitiatorSequence the sender's. Commitment is the SHA-256 hash
// of the initiator's secret.
type Proposal struct {
	SessionID         string
	Asset             string
	Quantity          int64
	Price             int64
	InitiatorSequence uint64
	CounterSequence   uint64
	Commitment        []byte
}

// Accept confirms a proposal. Terms must echo the proposal exactly; any
// mismatch aborts the session.
type Accept struct {
	SessionID string
	Asset     string
	Quantity  int64
	Price     int64
}

// Reject declines a proposal.
type Reject struct {
	SessionID string
	Reason    string
}

// LockNotice tells the counterparty which chain lock backs this session,
// so it can await finality and later claim.
type LockNotice struct {
	SessionID string
	LockRef   string
}
