package utxodb

import (
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"github.com/lunfardo314/easyfl"
	"github.com/lunfardo314/epochledger"
	"github.com/lunfardo314/epochledger/ledger"
	"github.com/lunfardo314/epochledger/ledger/epoch"
	"github.com/lunfardo314/epochledger/ledger/indexer"
	"github.com/lunfardo314/epochledger/ledger/state"
	"github.com/lunfardo314/epochledger/ledger/txbuilder"
	"github.com/lunfardo314/unitrie/common"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ed25519"
)

// UTXODB is an in-memory ledger with the genesis output and faucet. Each call is settled as an epoch.
// Not thread safe

type UTXODB struct {
	processor         *epoch.Processor
	indexer           *indexer.Indexer
	supply            ledger.Amount
	genesisPrivateKey ed25519.PrivateKey
	genesisPublicKey  ed25519.PublicKey
}

const (
	// for determinism
	originPrivateKey        = "8ec47313c15c3a4443c41619735109b56bc818f4a6b71d6a1f186ec96d15f28f14117899305d99fb4775de9223ce9886cfaa3195da1e40c5db47c61266f04dd2"
	deterministicSeed       = "1234567890987654321"
	supplyForTesting        = ledger.Amount(1_000_000_000_000)
	TokensFromFaucetDefault = ledger.Amount(1_000_000)
)

// GenesisOutputID is the ID of the only output of the initial pool
func GenesisOutputID() ledger.OutputID {
	return ledger.NewOutputID(ledger.TransactionID{}, 0)
}

func NewUTXODB(opts ...epoch.Option) *UTXODB {
	originPrivateKeyBin, err := hex.DecodeString(originPrivateKey)
	easyfl.AssertNoError(err)
	originPrivKey := ed25519.NewKeyFromSeed(originPrivateKeyBin[:ed25519.SeedSize])
	originPubKey := originPrivKey.Public().(ed25519.PublicKey)

	genesis := ledger.OutputWithID{
		ID:     GenesisOutputID(),
		Output: ledger.NewOutput(supplyForTesting, originPubKey),
	}
	ret := &UTXODB{
		processor:         epoch.NewProcessor(state.NewPoolFromOutputs(genesis), opts...),
		indexer:           indexer.NewInMemory(),
		supply:            supplyForTesting,
		genesisPrivateKey: originPrivKey,
		genesisPublicKey:  originPubKey,
	}
	err = ret.indexer.Update([]indexer.IndexEntry{{Owner: originPubKey, OutputID: genesis.ID}})
	easyfl.AssertNoError(err)
	return ret
}

func (u *UTXODB) Supply() ledger.Amount {
	return u.supply
}

func (u *UTXODB) GenesisKeys() (ed25519.PrivateKey, ed25519.PublicKey) {
	return u.genesisPrivateKey, u.genesisPublicKey
}

func (u *UTXODB) GenesisOwner() ed25519.PublicKey {
	return u.genesisPublicKey
}

// Processor gives direct access to the epoch processor. Epochs applied directly bypass the indexer
func (u *UTXODB) Processor() *epoch.Processor {
	return u.processor
}

func (u *UTXODB) Commitment() common.VCommitment {
	return u.processor.Commitment()
}

// ApplyEpoch settles candidates as one epoch and updates the indexer
func (u *UTXODB) ApplyEpoch(candidates []*ledger.Transaction) *epoch.Result {
	// owners of outputs which may be consumed by accepted transactions
	owners := make(map[ledger.OutputID]ed25519.PublicKey)
	for _, tx := range candidates {
		if tx == nil {
			continue
		}
		for _, oid := range tx.InputIDs() {
			if o, found := u.processor.GetUTXO(oid); found {
				owners[oid] = o.Owner
			}
		}
	}
	res := u.processor.ApplyEpochWithResult(candidates)

	entries := make([]indexer.IndexEntry, 0)
	for _, tx := range res.Accepted {
		for _, oid := range tx.InputIDs() {
			owner, found := owners[oid]
			easyfl.Assert(found, "UTXODB: unknown owner of consumed output %s", oid.String())
			entries = append(entries, indexer.IndexEntry{Owner: owner, OutputID: oid, Delete: true})
		}
		tx.ForEachOutput(func(i int, o ledger.Output) bool {
			oid := tx.ProducedOutputID(i)
			owners[oid] = o.Owner
			entries = append(entries, indexer.IndexEntry{Owner: o.Owner, OutputID: oid})
			return true
		})
	}
	err := u.indexer.Update(entries)
	easyfl.AssertNoError(err)
	return res
}

// AddTransaction settles the transaction as a single-transaction epoch. Returns the reason of rejection
func (u *UTXODB) AddTransaction(tx *ledger.Transaction) error {
	res := u.ApplyEpoch([]*ledger.Transaction{tx})
	if len(res.Rejected) > 0 {
		return res.Rejected[0].Reason
	}
	return nil
}

func (u *UTXODB) AddTransactionBytes(txBytes []byte) error {
	tx, err := ledger.TransactionFromBytes(txBytes)
	if err != nil {
		return err
	}
	return u.AddTransaction(tx)
}

func (u *UTXODB) TokensFromFaucet(owner ed25519.PublicKey, howMany ...ledger.Amount) error {
	amount := TokensFromFaucetDefault
	if len(howMany) > 0 && howMany[0] > 0 {
		amount = howMany[0]
	}
	par, err := u.MakeED25519TransferInputs(u.genesisPrivateKey)
	if err != nil {
		return err
	}
	tx, err := txbuilder.MakeTransferTransaction(par.WithAmount(amount).WithTargetOwner(owner))
	if err != nil {
		return errors.Wrap(err, "UTXODB faucet")
	}
	return u.AddTransaction(tx)
}

func (u *UTXODB) GenerateAddress(n uint16) (ed25519.PrivateKey, ed25519.PublicKey) {
	seed := blake2b.Sum256(epochledger.Concat([]byte(deterministicSeed), epochledger.EncodeInteger(n)))
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub := priv.Public().(ed25519.PublicKey)
	return priv, pub
}

// MakeED25519TransferInputs collects outputs of the sender, smallest first or, if desc, largest first
func (u *UTXODB) MakeED25519TransferInputs(privKey ed25519.PrivateKey, desc ...bool) (*txbuilder.ED25519TransferInputs, error) {
	ret := txbuilder.NewED25519TransferInputs(privKey)
	outs, err := u.OutputsOf(ret.SenderPublicKey)
	if err != nil {
		return nil, err
	}
	txbuilder.SortOutputsByAmount(outs, desc...)
	ret.WithOutputs(outs)
	return ret, nil
}

func (u *UTXODB) TransferTokens(privKey ed25519.PrivateKey, targetOwner ed25519.PublicKey, amount ledger.Amount) error {
	par, err := u.MakeED25519TransferInputs(privKey)
	if err != nil {
		return err
	}
	return u.DoTransfer(par.WithAmount(amount).WithTargetOwner(targetOwner))
}

func (u *UTXODB) DoTransferTx(par *txbuilder.ED25519TransferInputs) (*ledger.Transaction, error) {
	tx, err := txbuilder.MakeTransferTransaction(par)
	if err != nil {
		return nil, err
	}
	return tx, u.AddTransaction(tx)
}

func (u *UTXODB) DoTransfer(par *txbuilder.ED25519TransferInputs) error {
	_, err := u.DoTransferTx(par)
	return err
}

// OutputsOf returns unspent outputs of the owner in non-deterministic order
func (u *UTXODB) OutputsOf(owner ed25519.PublicKey) ([]ledger.OutputWithID, error) {
	return u.indexer.GetUTXOsForOwner(owner, u.processor)
}

func (u *UTXODB) account(owner ed25519.PublicKey) (ledger.Amount, int) {
	outs, err := u.OutputsOf(owner)
	easyfl.AssertNoError(err)
	balance := ledger.Amount(0)
	for _, o := range outs {
		balance += o.Output.Amount
	}
	return balance, len(outs)
}

func (u *UTXODB) Balance(owner ed25519.PublicKey) ledger.Amount {
	ret, _ := u.account(owner)
	return ret
}

func (u *UTXODB) NumUTXOs(owner ed25519.PublicKey) int {
	_, ret := u.account(owner)
	return ret
}
