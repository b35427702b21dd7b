package ledger

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/lunfardo314/easyfl"
)

const (
	TransactionIDLength = 32
	OutputIDLength      = TransactionIDLength + 1

	MaxInputs  = 256
	MaxOutputs = 256
)

type (
	// TransactionID is blake2b-256 hash of the canonical transaction bytes
	TransactionID [TransactionIDLength]byte
	// OutputID names one output of one transaction: transaction ID and index of the output
	OutputID [OutputIDLength]byte
)

func TransactionIDFromBytes(data []byte) (ret TransactionID, err error) {
	if len(data) != TransactionIDLength {
		err = errors.New("TransactionIDFromBytes: wrong data length")
		return
	}
	copy(ret[:], data)
	return
}

func (txid TransactionID) Bytes() []byte {
	return txid[:]
}

func (txid TransactionID) String() string {
	return easyfl.Fmt(txid[:])
}

func (txid TransactionID) Short() string {
	return easyfl.Fmt(txid[:6]) + ".."
}

func NewOutputID(id TransactionID, idx byte) (ret OutputID) {
	copy(ret[:TransactionIDLength], id[:])
	ret[TransactionIDLength] = idx
	return
}

func OutputIDFromBytes(data []byte) (ret OutputID, err error) {
	if len(data) != OutputIDLength {
		err = errors.New("OutputIDFromBytes: wrong data length")
		return
	}
	copy(ret[:], data)
	return
}

func (oid OutputID) String() string {
	txid := oid.TransactionID()
	return fmt.Sprintf("[%d]%s", oid.Index(), txid.String())
}

func (oid OutputID) Short() string {
	txid := oid.TransactionID()
	return fmt.Sprintf("[%d]%s", oid.Index(), txid.Short())
}

func (oid OutputID) TransactionID() (ret TransactionID) {
	copy(ret[:], oid[:TransactionIDLength])
	return
}

func (oid OutputID) Index() byte {
	return oid[TransactionIDLength]
}

func (oid OutputID) Bytes() []byte {
	return oid[:]
}

func LessOutputID(a, b OutputID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
