package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, in *Envelope) *Envelope {
	t.Helper()
	data, err := Marshal(in)
	require.NoError(t, err)
	out, err := Unmarshal(data)
	require.NoError(t, err)
	return out
}

func TestAnnounceRoundTrip(t *testing.T) {
	in := &Envelope{
		Version: ProtocolVersion,
		Announce: &Announce{
			Asset:    "wood",
			Side:     SideSell,
			Quantity: 10,
			Price:    2,
			Sequence: 7,
		},
	}
	out := roundTrip(t, in)
	assert.Equal(t, in, out)
	assert.Equal(t, KindAnnounce, out.Kind())
}

func TestRetractRoundTrip(t *testing.T) {
	out := roundTrip(t, &Envelope{Version: 1, Retract: &Retract{Sequence: 42}})
	assert.Equal(t, uint64(42), out.Retract.Sequence)
}

func TestMembershipRoundTrip(t *testing.T) {
	join := roundTrip(t, &Envelope{Version: 1, Join: &Join{}})
	assert.Equal(t, KindJoin, join.Kind())

	leave := roundTrip(t, &Envelope{Version: 1, Leave: &Leave{}})
	assert.Equal(t, KindLeave, leave.Kind())
}

func TestProposalRoundTrip(t *testing.T) {
	commitment := bytes.Repeat([]byte{0xab}, 32)
	in := &Envelope{
		Version: 1,
		To:      "bob",
		Proposal: &Proposal{
			SessionID:         "sess-1",
			Asset:             "wood",
			Quantity:          10,
			Price:             2,
			InitiatorSequence: 3,
			CounterSequence:   9,
			Commitment:        commitment,
		},
	}
	out := roundTrip(t, in)
	assert.Equal(t, in, out)
	assert.Equal(t, "sess-1", out.SessionID())
	assert.Equal(t, "bob", out.To)
}

func TestSessionMessagesRoundTrip(t *testing.T) {
	accept := roundTrip(t, &Envelope{Version: 1, To: "alice", Accept: &Accept{
		SessionID: "s", Asset: "wood", Quantity: 10, Price: 2,
	}})
	assert.Equal(t, KindAccept, accept.Kind())

	reject := roundTrip(t, &Envelope{Version: 1, To: "alice", Reject: &Reject{
		SessionID: "s", Reason: "order unavailable",
	}})
	assert.Equal(t, "order unavailable", reject.Reject.Reason)

	notice := roundTrip(t, &Envelope{Version: 1, To: "alice", LockNotice: &LockNotice{
		SessionID: "s", LockRef: "lock-7",
	}})
	assert.Equal(t, "lock-7", notice.LockNotice.LockRef)
}

func TestMarshalRejectsEmptyEnvelope(t *testing.T) {
	_, err := Marshal(&Envelope{Version: 1})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestUnmarshalRejectsCorruptFrame(t *testing.T) {
	data, err := Marshal(&Envelope{Version: 1, Retract: &Retract{Sequence: 1}})
	require.NoError(t, err)

	// Flip a body byte: checksum must catch it.
	data[len(data)-1] ^= 0xff
	_, err = Unmarshal(data)
	assert.ErrorIs(t, err, ErrDecode)

	// Truncated frame.
	_, err = Unmarshal(data[:5])
	assert.ErrorIs(t, err, ErrDecode)

	// Length mismatch.
	data2, _ := Marshal(&Envelope{Version: 1, Retract: &Retract{Sequence: 1}})
	_, err = Unmarshal(data2[:len(data2)-1])
	assert.ErrorIs(t, err, ErrDecode)
}

func TestUnmarshalValidatesFields(t *testing.T) {
	// Zero quantity is structural garbage.
	_, err := Marshal(&Envelope{Version: 1, Announce: &Announce{
		Asset: "wood", Side: SideBuy, Quantity: 0, Price: 1, Sequence: 1,
	}})
	require.NoError(t, err) // Marshal does not validate bodies...

	data, _ := Marshal(&Envelope{Version: 1, Announce: &Announce{
		Asset: "wood", Side: 9, Quantity: 5, Price: 1, Sequence: 1,
	}})
	_, err = Unmarshal(data)
	assert.ErrorIs(t, err, ErrDecode) // ...Unmarshal does.
}
