package ledger

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/lunfardo314/epochledger/lazyslice"
	"golang.org/x/crypto/blake2b"
)

// Input claims one unspent output. Signature authorizes the claim
type Input struct {
	ID        OutputID
	Signature []byte
}

// Transaction is immutable. All accessors return copies
type Transaction struct {
	id      TransactionID
	inputs  []Input
	outputs []Output
	bytes   []byte
}

// elements of the canonical transaction array
const (
	txInputIDs = iota
	txSignatures
	txOutputs
	txNumElements
)

// NewTransaction copies inputs and outputs and computes the transaction ID
func NewTransaction(inputs []Input, outputs []Output) (*Transaction, error) {
	if len(inputs) > MaxInputs {
		return nil, errors.Errorf("too many inputs: %d, max %d", len(inputs), MaxInputs)
	}
	if len(outputs) > MaxOutputs {
		return nil, errors.Errorf("too many outputs: %d, max %d", len(outputs), MaxOutputs)
	}
	ret := &Transaction{
		inputs:  make([]Input, len(inputs)),
		outputs: make([]Output, len(outputs)),
	}
	for i, inp := range inputs {
		ret.inputs[i] = Input{ID: inp.ID, Signature: bytes.Clone(inp.Signature)}
	}
	for i, o := range outputs {
		ret.outputs[i] = o.Clone()
	}
	ret.bytes = lazyslice.MakeArray(
		ret.inputIDsArray(),
		ret.signaturesArray(),
		ret.outputsArray(),
	).Bytes()
	ret.id = blake2b.Sum256(ret.bytes)
	return ret, nil
}

// TransactionFromBytes parses canonical transaction bytes. Non-canonical encodings are rejected,
// so the ID of the parsed transaction is always the hash of data
func TransactionFromBytes(data []byte) (*Transaction, error) {
	arr, err := lazyslice.ParseArray(data, txNumElements)
	if err != nil {
		return nil, errors.Wrap(err, "TransactionFromBytes")
	}
	if arr.NumElements() != txNumElements {
		return nil, errors.Errorf("TransactionFromBytes: %d elements expected, got %d", txNumElements, arr.NumElements())
	}
	idsArr, err := lazyslice.ParseArray(arr.At(txInputIDs), MaxInputs)
	if err != nil {
		return nil, errors.Wrap(err, "TransactionFromBytes: input IDs")
	}
	sigArr, err := lazyslice.ParseArray(arr.At(txSignatures), MaxInputs)
	if err != nil {
		return nil, errors.Wrap(err, "TransactionFromBytes: signatures")
	}
	outArr, err := lazyslice.ParseArray(arr.At(txOutputs), MaxOutputs)
	if err != nil {
		return nil, errors.Wrap(err, "TransactionFromBytes: outputs")
	}
	if idsArr.NumElements() != sigArr.NumElements() {
		return nil, errors.Errorf("TransactionFromBytes: number of signatures %d not equal to number of inputs %d",
			sigArr.NumElements(), idsArr.NumElements())
	}
	inputs := make([]Input, idsArr.NumElements())
	for i := range inputs {
		if inputs[i].ID, err = OutputIDFromBytes(idsArr.At(i)); err != nil {
			return nil, errors.Wrapf(err, "TransactionFromBytes: input %d", i)
		}
		inputs[i].Signature = sigArr.At(i)
	}
	outputs := make([]Output, outArr.NumElements())
	for i := range outputs {
		if outputs[i], err = OutputFromBytes(outArr.At(i)); err != nil {
			return nil, errors.Wrapf(err, "TransactionFromBytes: output %d", i)
		}
	}
	ret, err := NewTransaction(inputs, outputs)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(ret.bytes, data) {
		return nil, errors.New("TransactionFromBytes: non-canonical encoding")
	}
	return ret, nil
}

func (tx *Transaction) inputIDsArray() *lazyslice.Array {
	ret := lazyslice.EmptyArray(MaxInputs)
	for i := range tx.inputs {
		ret.Push(tx.inputs[i].ID[:])
	}
	return ret
}

func (tx *Transaction) signaturesArray() *lazyslice.Array {
	ret := lazyslice.EmptyArray(MaxInputs)
	for i := range tx.inputs {
		ret.Push(tx.inputs[i].Signature)
	}
	return ret
}

func (tx *Transaction) outputsArray() *lazyslice.Array {
	ret := lazyslice.EmptyArray(MaxOutputs)
	for i := range tx.outputs {
		ret.Push(tx.outputs[i].Bytes())
	}
	return ret
}

// UnsignedPayload is the message signed by the owner of the output claimed by input inputIndex.
// It commits to the input position, to all input IDs and to all outputs, but not to any signature
func (tx *Transaction) UnsignedPayload(inputIndex int) ([]byte, error) {
	if inputIndex < 0 || inputIndex >= len(tx.inputs) {
		return nil, errors.Errorf("UnsignedPayload: input index %d out of range [0, %d)", inputIndex, len(tx.inputs))
	}
	return lazyslice.MakeArray(
		[]byte{byte(inputIndex)},
		tx.inputIDsArray(),
		tx.outputsArray(),
	).Bytes(), nil
}

// WithSignatures returns new transaction with the same content and the given signatures
func (tx *Transaction) WithSignatures(sigs [][]byte) (*Transaction, error) {
	if len(sigs) != len(tx.inputs) {
		return nil, errors.Errorf("WithSignatures: %d signatures for %d inputs", len(sigs), len(tx.inputs))
	}
	inputs := make([]Input, len(tx.inputs))
	for i := range inputs {
		inputs[i] = Input{ID: tx.inputs[i].ID, Signature: sigs[i]}
	}
	return NewTransaction(inputs, tx.outputs)
}

func (tx *Transaction) ID() TransactionID {
	return tx.id
}

func (tx *Transaction) Bytes() []byte {
	return bytes.Clone(tx.bytes)
}

func (tx *Transaction) NumInputs() int {
	return len(tx.inputs)
}

func (tx *Transaction) NumOutputs() int {
	return len(tx.outputs)
}

func (tx *Transaction) Input(idx int) Input {
	return Input{ID: tx.inputs[idx].ID, Signature: bytes.Clone(tx.inputs[idx].Signature)}
}

func (tx *Transaction) Output(idx int) Output {
	return tx.outputs[idx].Clone()
}

// ProducedOutputID is the ID the output idx will have in the pool once the transaction is applied
func (tx *Transaction) ProducedOutputID(idx int) OutputID {
	return NewOutputID(tx.id, byte(idx))
}

func (tx *Transaction) ForEachInput(fun func(i int, inp Input) bool) {
	for i := range tx.inputs {
		if !fun(i, tx.Input(i)) {
			return
		}
	}
}

func (tx *Transaction) ForEachOutput(fun func(i int, o Output) bool) {
	for i := range tx.outputs {
		if !fun(i, tx.Output(i)) {
			return
		}
	}
}

func (tx *Transaction) InputIDs() []OutputID {
	ret := make([]OutputID, len(tx.inputs))
	for i := range tx.inputs {
		ret[i] = tx.inputs[i].ID
	}
	return ret
}

// OutputSum returns false if the sum overflows
func (tx *Transaction) OutputSum() (Amount, bool) {
	var ret Amount
	var ok bool
	for i := range tx.outputs {
		if ret, ok = SafeAdd(ret, tx.outputs[i].Amount); !ok {
			return 0, false
		}
	}
	return ret, true
}

func (tx *Transaction) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "tx %s\n", tx.id.String())
	for i := range tx.inputs {
		fmt.Fprintf(&buf, "   in  #%d: %s\n", i, tx.inputs[i].ID.Short())
	}
	for i := range tx.outputs {
		fmt.Fprintf(&buf, "   out #%d: %s\n", i, tx.outputs[i].String())
	}
	return buf.String()
}
