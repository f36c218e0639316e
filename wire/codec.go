package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrDecode marks any structurally malformed payload. The synchronizer
// drops such messages; they never become events.
var ErrDecode = errors.New("wire: malformed payload")

// Frame: [len:4][crc:4][body], big-endian, crc over body.
const frameHeader = 8

// Envelope field numbers.
const (
	fEnvVersion    = 1
	fEnvTo         = 2
	fEnvAnnounce   = 3
	fEnvRetract    = 4
	fEnvJoin       = 5
	fEnvLeave      = 6
	fEnvProposal   = 7
	fEnvAccept     = 8
	fEnvReject     = 9
	fEnvLockNotice = 10
)

// Marshal frames and encodes one envelope.
func Marshal(e *Envelope) ([]byte, error) {
	if e.Kind() == KindInvalid {
		return nil, fmt.Errorf("%w: envelope without body", ErrDecode)
	}

	var body []byte
	body = protowire.AppendTag(body, fEnvVersion, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(e.Version))
	if e.To != "" {
		body = protowire.AppendTag(body, fEnvTo, protowire.BytesType)
		body = protowire.AppendString(body, e.To)
	}

	appendMsg := func(num protowire.Number, sub []byte) {
		body = protowire.AppendTag(body, num, protowire.BytesType)
		body = protowire.AppendBytes(body, sub)
	}

	switch {
	case e.Announce != nil:
		appendMsg(fEnvAnnounce, encodeAnnounce(e.Announce))
	case e.Retract != nil:
		appendMsg(fEnvRetract, encodeRetract(e.Retract))
	case e.Join != nil:
		appendMsg(fEnvJoin, nil)
	case e.Leave != nil:
		appendMsg(fEnvLeave, nil)
	case e.Proposal != nil:
		appendMsg(fEnvProposal, encodeProposal(e.Proposal))
	case e.Accept != nil:
		appendMsg(fEnvAccept, encodeAccept(e.Accept))
	case e.Reject != nil:
		appendMsg(fEnvReject, encodeReject(e.Reject))
	case e.LockNotice != nil:
		appendMsg(fEnvLockNotice, encodeLockNotice(e.LockNotice))
	}

	out := make([]byte, frameHeader, frameHeader+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(body)))
	binary.BigEndian.PutUint32(out[4:8], crc32.ChecksumIEEE(body))
	return append(out, body...), nil
}

// Unmarshal verifies the frame and decodes the envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	if len(data) < frameHeader {
		return nil, fmt.Errorf("%w: short frame", ErrDecode)
	}
	n := binary.BigEndian.Uint32(data[0:4])
	body := data[frameHeader:]
	if uint32(len(body)) != n {
		return nil, fmt.Errorf("%w: frame length mismatch", ErrDecode)
	}
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(data[4:8]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrDecode)
	}

	e := &Envelope{}
	err := walkFields(body, func(num protowire.Number, v uint64, sub []byte) error {
		switch num {
		case fEnvVersion:
			e.Version = uint32(v)
		case fEnvTo:
			e.To = string(sub)
		case fEnvAnnounce:
			a, err := decodeAnnounce(sub)
			if err != nil {
				return err
			}
			e.Announce = a
		case fEnvRetract:
			r, err := decodeRetract(sub)
			if err != nil {
				return err
			}
			e.Retract = r
		case fEnvJoin:
			e.Join = &Join{}
		case fEnvLeave:
			e.Leave = &Leave{}
		case fEnvProposal:
			p, err := decodeProposal(sub)
			if err != nil {
				return err
			}
			e.Proposal = p
		case fEnvAccept:
			a, err := decodeAccept(sub)
			if err != nil {
				return err
			}
			e.Accept = a
		case fEnvReject:
			r, err := decodeReject(sub)
			if err != nil {
				return err
			}
			e.Reject = r
		case fEnvLockNotice:
			l, err := decodeLockNotice(sub)
			if err != nil {
				return err
			}
			e.LockNotice = l
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.Kind() == KindInvalid {
		return nil, fmt.Errorf("%w: envelope without body", ErrDecode)
	}
	return e, nil
}

// walkFields iterates top-level fields of a message. Varint fields arrive
// in v, bytes fields in sub. Unknown fields and wire types are skipped so
// newer peers stay compatible.
func walkFields(b []byte, fn func(num protowire.Number, v uint64, sub []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: bad tag", ErrDecode)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: bad varint", ErrDecode)
			}
			b = b[n:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: bad length-delimited field", ErrDecode)
			}
			b = b[n:]
			if err := fn(num, 0, sub); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: bad field", ErrDecode)
			}
			b = b[n:]
		}
	}
	return nil
}

// ---- message bodies ----

func encodeAnnounce(a *Announce) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, a.Asset)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Side))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Quantity))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Price))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, a.Sequence)
	return b
}

func decodeAnnounce(b []byte) (*Announce, error) {
	a := &Announce{}
	err := walkFields(b, func(num protowire.Number, v uint64, sub []byte) error {
		switch num {
		case 1:
			a.Asset = string(sub)
		case 2:
			a.Side = uint32(v)
		case 3:
			a.Quantity = int64(v)
		case 4:
			a.Price = int64(v)
		case 5:
			a.Sequence = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if a.Asset == "" || a.Sequence == 0 || a.Quantity <= 0 || a.Price < 0 {
		return nil, fmt.Errorf("%w: announce fields out of range", ErrDecode)
	}
	if a.Side != SideBuy && a.Side != SideSell {
		return nil, fmt.Errorf("%w: announce side %d", ErrDecode, a.Side)
	}
	return a, nil
}

func encodeRetract(r *Retract) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Sequence)
	return b
}

func decodeRetract(b []byte) (*Retract, error) {
	r := &Retract{}
	err := walkFields(b, func(num protowire.Number, v uint64, _ []byte) error {
		if num == 1 {
			r.Sequence = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if r.Sequence == 0 {
		return nil, fmt.Errorf("%w: retract without sequence", ErrDecode)
	}
	return r, nil
}

func encodeProposal(p *Proposal) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, p.SessionID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, p.Asset)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Quantity))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Price))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, p.InitiatorSequence)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, p.CounterSequence)
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Commitment)
	return b
}

func decodeProposal(b []byte) (*Proposal, error) {
	p := &Proposal{}
	err := walkFields(b, func(num protowire.Number, v uint64, sub []byte) error {
		switch num {
		case 1:
			p.SessionID = string(sub)
		case 2:
			p.Asset = string(sub)
		case 3:
			p.Quantity = int64(v)
		case 4:
			p.Price = int64(v)
		case 5:
			p.InitiatorSequence = v
		case 6:
			p.CounterSequence = v
		case 7:
			p.Commitment = append([]byte(nil), sub...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if p.SessionID == "" || p.Asset == "" || p.Quantity <= 0 || p.Price < 0 {
		return nil, fmt.Errorf("%w: proposal fields out of range", ErrDecode)
	}
	if len(p.Commitment) != 32 {
		return nil, fmt.Errorf("%w: proposal commitment length %d", ErrDecode, len(p.Commitment))
	}
	return p, nil
}

func encodeAccept(a *Accept) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, a.SessionID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, a.Asset)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Quantity))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Price))
	return b
}

func decodeAccept(b []byte) (*Accept, error) {
	a := &Accept{}
	err := walkFields(b, func(num protowire.Number, v uint64, sub []byte) error {
		switch num {
		case 1:
			a.SessionID = string(sub)
		case 2:
			a.Asset = string(sub)
		case 3:
			a.Quantity = int64(v)
		case 4:
			a.Price = int64(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if a.SessionID == "" {
		return nil, fmt.Errorf("%w: accept without session", ErrDecode)
	}
	return a, nil
}

func encodeReject(r *Reject) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, r.SessionID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, r.Reason)
	return b
}

func decodeReject(b []byte) (*Reject, error) {
	r := &Reject{}
	err := walkFields(b, func(num protowire.Number, _ uint64, sub []byte) error {
		switch num {
		case 1:
			r.SessionID = string(sub)
		case 2:
			r.Reason = string(sub)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if r.SessionID == "" {
		return nil, fmt.Errorf("%w: reject without session", ErrDecode)
	}
	return r, nil
}

func encodeLockNotice(l *LockNotice) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, l.SessionID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, l.LockRef)
	return b
}

func decodeLockNotice(b []byte) (*LockNotice, error) {
	l := &LockNotice{}
	err := walkFields(b, func(num protowire.Number, _ uint64, sub []byte) error {
		switch num {
		case 1:
			l.SessionID = string(sub)
		case 2:
			l.LockRef = string(sub)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if l.SessionID == "" || l.LockRef == "" {
		return nil, fmt.Errorf("%w: lock notice fields missing", ErrDecode)
	}
	return l, nil
}
