package instruction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
)

// AccountMeta is one participant reference.
type AccountMeta struct {
	ID       domain.AccountID `json:"id"`
	Signer   bool             `json:"signer,omitempty"`
	Writable bool             `json:"writable,omitempty"`
}

// Envelope is a decoded instruction.
type Envelope struct {
	Payload  Payload
	Accounts []AccountMeta
}

// layout declares the positional account contract of a kind. Signer flags are
// not checked here: a missing signature is an access-control failure.
type layout struct {
	min, max int // max < 0 means variadic
	writable []int
	// writableTail marks every account at or after min as writable.
	writableTail bool
}

var layouts = map[Kind]layout{
	KindInitialize:   {min: 2, max: 2, writable: []int{0}},
	KindDeposit:      {min: 5, max: 5, writable: []int{0, 1, 3, 4}},
	KindMintReceipt:  {min: 4, max: 4, writable: []int{1, 2}},
	KindBurnReceipt:  {min: 5, max: -1, writable: []int{1, 2}, writableTail: true},
	KindWithdraw:     {min: 5, max: 5, writable: []int{1, 2, 3, 4}},
	KindSlash:        {min: 4, max: 5, writable: []int{1, 2, 3}, writableTail: true},
	KindSetAuthority: {min: 2, max: 2, writable: []int{1}},
}

// BurnReceiptsOffset is the index of the first receipt in a burn's account list.
const BurnReceiptsOffset = 4

// Kind returns the payload's tag.
func (e Envelope) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Validate checks the payload and the account layout.
func (e Envelope) Validate() error {
	if e.Payload == nil {
		return decodeError("instruction has no payload")
	}
	l, ok := layouts[e.Payload.Kind()]
	if !ok {
		return decodeError(fmt.Sprintf("unknown instruction kind %q", e.Payload.Kind()))
	}
	if err := e.Payload.validate(); err != nil {
		return err
	}
	n := len(e.Accounts)
	if n < l.min || (l.max >= 0 && n > l.max) {
		return decodeError(fmt.Sprintf("%s expects %s accounts, got %d", e.Kind(), l.describe(), n))
	}
	for i, a := range e.Accounts {
		if a.ID.IsNil() {
			return decodeError(fmt.Sprintf("account %d is nil", i))
		}
	}
	for _, i := range l.writable {
		if !e.Accounts[i].Writable {
			return decodeError(fmt.Sprintf("account %d must be writable", i))
		}
	}
	if l.writableTail {
		for i := l.min; i < n; i++ {
			if !e.Accounts[i].Writable {
				return decodeError(fmt.Sprintf("account %d must be writable", i))
			}
		}
	}
	return nil
}

func (l layout) describe() string {
	switch {
	case l.max < 0:
		return fmt.Sprintf("at least %d", l.min)
	case l.min == l.max:
		return fmt.Sprintf("%d", l.min)
	default:
		return fmt.Sprintf("%d to %d", l.min, l.max)
	}
}

// Account returns the participant at position i. Call after Validate.
func (e Envelope) Account(i int) AccountMeta {
	return e.Accounts[i]
}

// Keys returns the distinct participant IDs, in list order.
func (e Envelope) Keys() []domain.AccountID {
	keys := make([]domain.AccountID, 0, len(e.Accounts))
	for _, a := range e.Accounts {
		if !slices.Contains(keys, a.ID) {
			keys = append(keys, a.ID)
		}
	}
	return keys
}

type wireEnvelope struct {
	Kind     Kind            `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	Accounts []AccountMeta   `json:"accounts"`
}

// MarshalJSON encodes the envelope with its kind tag.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, decodeError("instruction has no payload")
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Kind: e.Payload.Kind(), Payload: payload, Accounts: e.Accounts})
}

// UnmarshalJSON decodes the tagged form. It does not run Validate.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := strictUnmarshal(data, &w); err != nil {
		return dErrors.Wrap(err, dErrors.CodeDecode, "malformed instruction")
	}
	payload, err := newPayload(w.Kind)
	if err != nil {
		return err
	}
	if len(w.Payload) > 0 {
		if err := strictUnmarshal(w.Payload, payload); err != nil {
			return dErrors.Wrap(err, dErrors.CodeDecode, fmt.Sprintf("malformed %s payload", w.Kind))
		}
	}
	e.Payload = deref(payload)
	e.Accounts = w.Accounts
	return nil
}

// Decode parses and validates an encoded instruction.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeDecode {
			return Envelope{}, err
		}
		return Envelope{}, dErrors.Wrap(err, dErrors.CodeDecode, "malformed instruction")
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Encode serializes an envelope.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func newPayload(kind Kind) (any, error) {
	switch kind {
	case KindInitialize:
		return &Initialize{}, nil
	case KindDeposit:
		return &Deposit{}, nil
	case KindMintReceipt:
		return &MintReceipt{}, nil
	case KindBurnReceipt:
		return &BurnReceipt{}, nil
	case KindWithdraw:
		return &Withdraw{}, nil
	case KindSlash:
		return &Slash{}, nil
	case KindSetAuthority:
		return &SetAuthority{}, nil
	default:
		return nil, decodeError(fmt.Sprintf("unknown instruction kind %q", kind))
	}
}

func deref(p any) Payload {
	switch v := p.(type) {
	case *Initialize:
		return *v
	case *Deposit:
		return *v
	case *MintReceipt:
		return *v
	case *BurnReceipt:
		return *v
	case *Withdraw:
		return *v
	case *Slash:
		return *v
	case *SetAuthority:
		return *v
	default:
		panic(fmt.Sprintf("instruction: unhandled payload %T", p))
	}
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after instruction")
	}
	return nil
}
