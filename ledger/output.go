package ledger

import (
	"bytes"
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/lunfardo314/epochledger"
	"github.com/lunfardo314/epochledger/lazyslice"
	"golang.org/x/crypto/ed25519"
)

// Amount is a value in indivisible units. It is signed so that negative
// declared outputs can be represented and rejected
type Amount int64

type (
	// Output is immutable once created. Owner must not be modified in place
	Output struct {
		Amount Amount
		Owner  ed25519.PublicKey
	}

	OutputWithID struct {
		ID     OutputID
		Output Output
	}
)

const (
	outputBlockAmount = iota
	outputBlockOwner
	outputNumBlocks
)

func NewOutput(amount Amount, owner ed25519.PublicKey) Output {
	return Output{
		Amount: amount,
		Owner:  bytes.Clone(owner),
	}
}

func OutputFromBytes(data []byte) (Output, error) {
	arr, err := lazyslice.ParseArray(data, outputNumBlocks)
	if err != nil {
		return Output{}, errors.Wrap(err, "OutputFromBytes")
	}
	if arr.NumElements() != outputNumBlocks {
		return Output{}, errors.Errorf("OutputFromBytes: %d blocks expected, got %d", outputNumBlocks, arr.NumElements())
	}
	amount, err := epochledger.TryDecodeInteger[int64](arr.At(outputBlockAmount))
	if err != nil {
		return Output{}, errors.Wrap(err, "OutputFromBytes: amount")
	}
	return NewOutput(Amount(amount), arr.At(outputBlockOwner)), nil
}

func (o Output) Bytes() []byte {
	return lazyslice.MakeArray(epochledger.EncodeInteger(int64(o.Amount)), []byte(o.Owner)).Bytes()
}

// Clone makes a deep copy
func (o Output) Clone() Output {
	return NewOutput(o.Amount, o.Owner)
}

func (o Output) IsOwnedBy(owner ed25519.PublicKey) bool {
	return bytes.Equal(o.Owner, owner)
}

func (o Output) String() string {
	return fmt.Sprintf("%d -> %s", o.Amount, OwnerString(o.Owner))
}

func OwnerString(owner ed25519.PublicKey) string {
	if len(owner) < 6 {
		return fmt.Sprintf("%x", []byte(owner))
	}
	return fmt.Sprintf("%x..", []byte(owner[:6]))
}

// SafeAdd returns false on int64 overflow
func SafeAdd(a, b Amount) (Amount, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, false
	}
	return a + b, true
}
