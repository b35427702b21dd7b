package txbuilder

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/lunfardo314/easyfl"
	"github.com/lunfardo314/epochledger/ledger"
	"golang.org/x/crypto/ed25519"
)

type (
	// TransactionBuilder collects consumed and produced outputs and signs the inputs positionally
	TransactionBuilder struct {
		ConsumedOutputs []ledger.OutputWithID
		Outputs         []ledger.Output
		signatures      [][]byte
		unsigned        *ledger.Transaction
	}
)

func NewTransactionBuilder() *TransactionBuilder {
	return &TransactionBuilder{
		ConsumedOutputs: make([]ledger.OutputWithID, 0),
		Outputs:         make([]ledger.Output, 0),
	}
}

func (ctx *TransactionBuilder) NumInputs() int {
	return len(ctx.ConsumedOutputs)
}

func (ctx *TransactionBuilder) NumOutputs() int {
	return len(ctx.Outputs)
}

// ConsumeOutput adds input. Returns index of the input
func (ctx *TransactionBuilder) ConsumeOutput(oid ledger.OutputID, out ledger.Output) (byte, error) {
	if ctx.NumInputs() >= ledger.MaxInputs {
		return 0, errors.New("too many consumed outputs")
	}
	ctx.ConsumedOutputs = append(ctx.ConsumedOutputs, ledger.OutputWithID{ID: oid, Output: out.Clone()})
	ctx.unsigned = nil
	return byte(len(ctx.ConsumedOutputs) - 1), nil
}

// ProduceOutput adds output. Returns index of the output
func (ctx *TransactionBuilder) ProduceOutput(out ledger.Output) (byte, error) {
	if ctx.NumOutputs() >= ledger.MaxOutputs {
		return 0, errors.New("too many produced outputs")
	}
	ctx.Outputs = append(ctx.Outputs, out.Clone())
	ctx.unsigned = nil
	return byte(len(ctx.Outputs) - 1), nil
}

// ConsumedAmount returns sum of consumed outputs, false on overflow
func (ctx *TransactionBuilder) ConsumedAmount() (ledger.Amount, bool) {
	var ret ledger.Amount
	var ok bool
	for _, o := range ctx.ConsumedOutputs {
		if ret, ok = ledger.SafeAdd(ret, o.Output.Amount); !ok {
			return 0, false
		}
	}
	return ret, true
}

// Build makes unsigned transaction. Signatures collected so far are discarded if the content changed
func (ctx *TransactionBuilder) Build() (*ledger.Transaction, error) {
	if ctx.unsigned != nil {
		return ctx.unsigned, nil
	}
	inputs := make([]ledger.Input, len(ctx.ConsumedOutputs))
	for i := range inputs {
		inputs[i].ID = ctx.ConsumedOutputs[i].ID
	}
	var err error
	if ctx.unsigned, err = ledger.NewTransaction(inputs, ctx.Outputs); err != nil {
		return nil, err
	}
	ctx.signatures = make([][]byte, len(inputs))
	return ctx.unsigned, nil
}

// SignInput signs input idx with the key
func (ctx *TransactionBuilder) SignInput(idx int, privateKey ed25519.PrivateKey) error {
	tx, err := ctx.Build()
	if err != nil {
		return err
	}
	sig, err := ledger.SignInput(tx, idx, privateKey)
	if err != nil {
		return err
	}
	ctx.signatures[idx] = sig
	return nil
}

// SignAll signs every input. One key signs all inputs, otherwise number of keys must be equal to number of inputs
func (ctx *TransactionBuilder) SignAll(keys ...ed25519.PrivateKey) error {
	if len(keys) != 1 && len(keys) != ctx.NumInputs() {
		return errors.Errorf("SignAll: %d keys for %d inputs", len(keys), ctx.NumInputs())
	}
	for i := 0; i < ctx.NumInputs(); i++ {
		key := keys[0]
		if len(keys) > 1 {
			key = keys[i]
		}
		if err := ctx.SignInput(i, key); err != nil {
			return err
		}
	}
	return nil
}

// Transaction returns the transaction with signatures. Missing signatures are left empty
func (ctx *TransactionBuilder) Transaction() (*ledger.Transaction, error) {
	tx, err := ctx.Build()
	if err != nil {
		return nil, err
	}
	return tx.WithSignatures(ctx.signatures)
}

type ED25519TransferInputs struct {
	SenderPrivateKey ed25519.PrivateKey
	SenderPublicKey  ed25519.PublicKey
	Outputs          []ledger.OutputWithID
	TargetOwner      ed25519.PublicKey
	Amount           ledger.Amount
	Fee              ledger.Amount
}

func NewED25519TransferInputs(senderKey ed25519.PrivateKey) *ED25519TransferInputs {
	return &ED25519TransferInputs{
		SenderPrivateKey: senderKey,
		SenderPublicKey:  senderKey.Public().(ed25519.PublicKey),
	}
}

func (t *ED25519TransferInputs) WithTargetOwner(owner ed25519.PublicKey) *ED25519TransferInputs {
	t.TargetOwner = owner
	return t
}

func (t *ED25519TransferInputs) WithAmount(amount ledger.Amount) *ED25519TransferInputs {
	t.Amount = amount
	return t
}

// WithFee sets the part of consumed amount which is not reproduced in outputs
func (t *ED25519TransferInputs) WithFee(fee ledger.Amount) *ED25519TransferInputs {
	t.Fee = fee
	return t
}

// WithOutputs sets outputs available for consumption, in order of preference
func (t *ED25519TransferInputs) WithOutputs(outs []ledger.OutputWithID) *ED25519TransferInputs {
	t.Outputs = outs
	return t
}

// MakeTransferTransaction consumes outputs in the given order until amount plus fee is covered.
// Produces the target output and, if needed, the remainder output back to the sender
func MakeTransferTransaction(par *ED25519TransferInputs) (*ledger.Transaction, error) {
	if par.Amount < 0 || par.Fee < 0 {
		return nil, errors.Errorf("MakeTransferTransaction: wrong amount %d or fee %d", par.Amount, par.Fee)
	}
	if len(par.TargetOwner) != ed25519.PublicKeySize {
		return nil, errors.New("MakeTransferTransaction: target owner not set")
	}
	needed, ok := ledger.SafeAdd(par.Amount, par.Fee)
	if !ok {
		return nil, errors.New("MakeTransferTransaction: amount overflow")
	}
	ctx := NewTransactionBuilder()
	available := ledger.Amount(0)
	for _, o := range par.Outputs {
		if available >= needed {
			break
		}
		if !o.Output.IsOwnedBy(par.SenderPublicKey) {
			continue
		}
		if _, err := ctx.ConsumeOutput(o.ID, o.Output); err != nil {
			return nil, errors.Wrapf(err, "MakeTransferTransaction: exceeded max number of consumed outputs %d", ledger.MaxInputs)
		}
		if available, ok = ledger.SafeAdd(available, o.Output.Amount); !ok {
			return nil, errors.New("MakeTransferTransaction: overflow of consumed amount")
		}
	}
	if available < needed {
		return nil, errors.Errorf("not enough tokens of %s: needed %d, got %d",
			ledger.OwnerString(par.SenderPublicKey), needed, available)
	}
	_, err := ctx.ProduceOutput(ledger.NewOutput(par.Amount, par.TargetOwner))
	easyfl.AssertNoError(err)
	if available > needed {
		_, err = ctx.ProduceOutput(ledger.NewOutput(available-needed, par.SenderPublicKey))
		easyfl.AssertNoError(err)
	}
	if err = ctx.SignAll(par.SenderPrivateKey); err != nil {
		return nil, err
	}
	return ctx.Transaction()
}

// SortOutputsByAmount sorts ascending or, if desc, descending by amount. Equal amounts are ordered by ID
func SortOutputsByAmount(outs []ledger.OutputWithID, desc ...bool) {
	descending := len(desc) > 0 && desc[0]
	sort.Slice(outs, func(i, j int) bool {
		if outs[i].Output.Amount != outs[j].Output.Amount {
			if descending {
				return outs[i].Output.Amount > outs[j].Output.Amount
			}
			return outs[i].Output.Amount < outs[j].Output.Amount
		}
		return ledger.LessOutputID(outs[i].ID, outs[j].ID)
	})
}
