package epoch

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/lunfardo314/epochledger/ledger"
	"github.com/lunfardo314/epochledger/ledger/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ed25519"
)

type account struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func newAccount(n byte) account {
	seed := blake2b.Sum256([]byte{0x11, n})
	priv := ed25519.NewKeyFromSeed(seed[:])
	return account{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

func genesisID(n byte) ledger.OutputID {
	return ledger.NewOutputID(blake2b.Sum256([]byte("genesis")), n)
}

// makeTx signs every input with the corresponding key
func makeTx(t *testing.T, inputs []ledger.OutputID, keys []account, outputs ...ledger.Output) *ledger.Transaction {
	ins := make([]ledger.Input, len(inputs))
	for i := range inputs {
		ins[i].ID = inputs[i]
	}
	tx, err := ledger.NewTransaction(ins, outputs)
	require.NoError(t, err)
	sigs := make([][]byte, len(inputs))
	for i := range sigs {
		sigs[i], err = ledger.SignInput(tx, i, keys[i].priv)
		require.NoError(t, err)
	}
	tx, err = tx.WithSignatures(sigs)
	require.NoError(t, err)
	return tx
}

// alice owns 10 at genesisID(0), bob owns 5 at genesisID(1)
func initPool() (*state.Pool, account, account) {
	alice, bob := newAccount(1), newAccount(2)
	return state.NewPoolFromOutputs(
		ledger.OutputWithID{ID: genesisID(0), Output: ledger.NewOutput(10, alice.pub)},
		ledger.OutputWithID{ID: genesisID(1), Output: ledger.NewOutput(5, bob.pub)},
	), alice, bob
}

func TestScenarios(t *testing.T) {
	t.Run("balanced transfer accepted", func(t *testing.T) {
		pool, alice, bob := initPool()
		p := NewProcessor(pool)
		tx := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(10, bob.pub))
		acc := p.ApplyEpoch([]*ledger.Transaction{tx})
		require.EqualValues(t, 1, len(acc))
		require.EqualValues(t, tx.ID(), acc[0].ID())

		after := p.Pool()
		require.False(t, after.Contains(genesisID(0)))
		out, found := after.Get(tx.ProducedOutputID(0))
		require.True(t, found)
		require.EqualValues(t, 10, out.Amount)
		require.True(t, out.IsOwnedBy(bob.pub))
		require.EqualValues(t, 2, after.Len())
	})
	t.Run("inflation rejected", func(t *testing.T) {
		pool, alice, bob := initPool()
		p := NewProcessor(pool)
		tx := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(11, bob.pub))
		require.EqualValues(t, 0, len(p.ApplyEpoch([]*ledger.Transaction{tx})))
		require.True(t, p.Pool().Equal(pool))
		require.True(t, errors.Is(p.Validate(tx), ErrOverspend))
	})
	t.Run("empty epoch", func(t *testing.T) {
		pool, _, _ := initPool()
		p := NewProcessor(pool)
		require.EqualValues(t, 0, len(p.ApplyEpoch(nil)))
		require.True(t, p.Pool().Equal(pool))
		require.EqualValues(t, 1, p.Epoch())
	})
}

func TestValidation(t *testing.T) {
	pool, alice, bob := initPool()
	p := NewProcessor(pool)

	t.Run("fee allowed", func(t *testing.T) {
		tx := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(7, bob.pub))
		require.NoError(t, p.Validate(tx))
	})
	t.Run("two inputs", func(t *testing.T) {
		tx := makeTx(t, []ledger.OutputID{genesisID(0), genesisID(1)}, []account{alice, bob},
			ledger.NewOutput(15, alice.pub))
		require.NoError(t, p.Validate(tx))
	})
	t.Run("zero outputs", func(t *testing.T) {
		tx := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice})
		require.NoError(t, p.Validate(tx))
		tx = makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(0, bob.pub))
		require.NoError(t, p.Validate(tx))
	})
	t.Run("nil", func(t *testing.T) {
		require.True(t, errors.Is(p.Validate(nil), ErrNilTransaction))
	})
	t.Run("input not found", func(t *testing.T) {
		tx := makeTx(t, []ledger.OutputID{genesisID(5)}, []account{alice}, ledger.NewOutput(1, bob.pub))
		require.True(t, errors.Is(p.Validate(tx), ErrInputNotFound))
	})
	t.Run("wrong signer", func(t *testing.T) {
		tx := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{bob}, ledger.NewOutput(10, bob.pub))
		require.True(t, errors.Is(p.Validate(tx), ErrInvalidSignature))
	})
	t.Run("missing signature", func(t *testing.T) {
		tx, err := ledger.NewTransaction([]ledger.Input{{ID: genesisID(0)}}, []ledger.Output{ledger.NewOutput(1, bob.pub)})
		require.NoError(t, err)
		require.True(t, errors.Is(p.Validate(tx), ErrInvalidSignature))
	})
	t.Run("signature of other position", func(t *testing.T) {
		tx := makeTx(t, []ledger.OutputID{genesisID(0), genesisID(1)}, []account{alice, bob},
			ledger.NewOutput(15, alice.pub))
		swapped, err := tx.WithSignatures([][]byte{tx.Input(1).Signature, tx.Input(0).Signature})
		require.NoError(t, err)
		require.True(t, errors.Is(p.Validate(swapped), ErrInvalidSignature))
	})
	t.Run("signature does not cover other outputs", func(t *testing.T) {
		tx := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(10, bob.pub))
		forged, err := ledger.NewTransaction([]ledger.Input{tx.Input(0)}, []ledger.Output{ledger.NewOutput(10, alice.pub)})
		require.NoError(t, err)
		require.True(t, errors.Is(p.Validate(forged), ErrInvalidSignature))
	})
	t.Run("internal double spend", func(t *testing.T) {
		tx := makeTx(t, []ledger.OutputID{genesisID(0), genesisID(0)}, []account{alice, alice},
			ledger.NewOutput(20, bob.pub))
		require.True(t, errors.Is(p.Validate(tx), ErrDoubleSpend))

		tx = makeTx(t, []ledger.OutputID{genesisID(0), genesisID(0)}, []account{alice, alice},
			ledger.NewOutput(1, bob.pub))
		require.True(t, errors.Is(p.Validate(tx), ErrDoubleSpend))
	})
	t.Run("negative output", func(t *testing.T) {
		tx := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice},
			ledger.NewOutput(15, bob.pub), ledger.NewOutput(-5, alice.pub))
		require.True(t, errors.Is(p.Validate(tx), ErrNegativeOutput))
	})
	t.Run("output overflow", func(t *testing.T) {
		tx := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice},
			ledger.NewOutput(1<<62, bob.pub), ledger.NewOutput(1<<62, bob.pub), ledger.NewOutput(1<<62, bob.pub))
		require.True(t, errors.Is(p.Validate(tx), ErrArithmeticOverflow))
	})
	t.Run("order of checks", func(t *testing.T) {
		// missing input wins over everything else
		tx := makeTx(t, []ledger.OutputID{genesisID(0), genesisID(7)}, []account{bob, bob},
			ledger.NewOutput(-1, bob.pub))
		require.True(t, errors.Is(p.Validate(tx), ErrInputNotFound))
		// bad signature wins over negative output
		tx = makeTx(t, []ledger.OutputID{genesisID(0)}, []account{bob}, ledger.NewOutput(-1, bob.pub))
		require.True(t, errors.Is(p.Validate(tx), ErrInvalidSignature))
	})
	t.Run("validation does not change the pool", func(t *testing.T) {
		require.True(t, p.Pool().Equal(pool))
	})
	t.Run("custom verifier", func(t *testing.T) {
		all := NewProcessor(pool, WithVerifier(ledger.VerifierFunc(func(_ ed25519.PublicKey, _, _ []byte) bool {
			return true
		})))
		tx, err := ledger.NewTransaction([]ledger.Input{{ID: genesisID(0)}}, []ledger.Output{ledger.NewOutput(1, bob.pub)})
		require.NoError(t, err)
		require.True(t, all.IsValid(tx))
		require.False(t, p.IsValid(tx))
	})
}

func TestEpoch(t *testing.T) {
	t.Run("cross-batch double spend", func(t *testing.T) {
		pool, alice, bob := initPool()
		p := NewProcessor(pool)
		t1 := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(10, bob.pub))
		t2 := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(9, alice.pub))
		res := p.ApplyEpochWithResult([]*ledger.Transaction{t1, t2})
		require.EqualValues(t, 1, len(res.Accepted))
		require.EqualValues(t, t1.ID(), res.Accepted[0].ID())
		require.EqualValues(t, 1, len(res.Rejected))
		require.EqualValues(t, t2.ID(), res.Rejected[0].Transaction.ID())
		require.True(t, errors.Is(res.Rejected[0].Reason, ErrInputNotFound))

		require.False(t, p.Pool().Contains(genesisID(0)))
		require.True(t, p.Pool().Contains(t1.ProducedOutputID(0)))
		require.False(t, p.Pool().Contains(t2.ProducedOutputID(0)))
	})
	t.Run("spending output created in the same epoch", func(t *testing.T) {
		pool, alice, bob := initPool()
		p := NewProcessor(pool)
		t1 := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(10, bob.pub))
		t2 := makeTx(t, []ledger.OutputID{t1.ProducedOutputID(0)}, []account{bob}, ledger.NewOutput(10, alice.pub))

		acc := p.ApplyEpoch([]*ledger.Transaction{t2, t1})
		require.EqualValues(t, 1, len(acc))
		require.EqualValues(t, t1.ID(), acc[0].ID())

		p = NewProcessor(pool)
		acc = p.ApplyEpoch([]*ledger.Transaction{t1, t2})
		require.EqualValues(t, 2, len(acc))
		require.EqualValues(t, 2, p.NumUTXOs())
		out, found := p.GetUTXO(t2.ProducedOutputID(0))
		require.True(t, found)
		require.True(t, out.IsOwnedBy(alice.pub))
	})
	t.Run("nil and invalid candidates are skipped", func(t *testing.T) {
		pool, alice, bob := initPool()
		p := NewProcessor(pool)
		bad := makeTx(t, []ledger.OutputID{genesisID(1)}, []account{alice}, ledger.NewOutput(5, alice.pub))
		good := makeTx(t, []ledger.OutputID{genesisID(1)}, []account{bob}, ledger.NewOutput(5, alice.pub))
		res := p.ApplyEpochWithResult([]*ledger.Transaction{nil, bad, good})
		require.EqualValues(t, 1, len(res.Accepted))
		require.EqualValues(t, good.ID(), res.Accepted[0].ID())
		require.EqualValues(t, 2, len(res.Rejected))
		require.True(t, errors.Is(res.Rejected[0].Reason, ErrNilTransaction))
		require.True(t, errors.Is(res.Rejected[1].Reason, ErrInvalidSignature))
	})
	t.Run("isolation", func(t *testing.T) {
		pool, alice, bob := initPool()
		before := pool.Clone()
		p := NewProcessor(pool)
		tx := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(10, bob.pub))

		snapshot := p.Pool()
		p.ApplyEpoch([]*ledger.Transaction{tx})
		require.True(t, pool.Equal(before))
		require.True(t, snapshot.Equal(before))

		// modifying the returned copy does not affect the processor
		after := p.Pool()
		after.Remove(tx.ProducedOutputID(0))
		require.True(t, p.Pool().Contains(tx.ProducedOutputID(0)))
	})
	t.Run("rejection is idempotent", func(t *testing.T) {
		pool, alice, bob := initPool()
		p := NewProcessor(pool)
		tx := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(10, bob.pub))
		require.EqualValues(t, 1, len(p.ApplyEpoch([]*ledger.Transaction{tx})))
		c := p.Commitment()
		require.EqualValues(t, 0, len(p.ApplyEpoch([]*ledger.Transaction{tx})))
		require.EqualValues(t, 0, len(p.ApplyEpoch([]*ledger.Transaction{tx, tx})))
		require.EqualValues(t, c.String(), p.Commitment().String())
		require.EqualValues(t, 3, p.Epoch())
	})
	t.Run("conservation", func(t *testing.T) {
		pool, alice, bob := initPool()
		p := NewProcessor(pool)
		t1 := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice},
			ledger.NewOutput(4, bob.pub), ledger.NewOutput(5, alice.pub))
		t2 := makeTx(t, []ledger.OutputID{genesisID(1), t1.ProducedOutputID(0)}, []account{bob, bob},
			ledger.NewOutput(9, alice.pub))
		require.EqualValues(t, 2, len(p.ApplyEpoch([]*ledger.Transaction{t1, t2})))
		var total ledger.Amount
		p.Pool().ForEach(func(_ ledger.OutputID, out ledger.Output) bool {
			total += out.Amount
			return true
		})
		require.EqualValues(t, 14, total)
	})
	t.Run("same result from the same state", func(t *testing.T) {
		pool, alice, bob := initPool()
		t1 := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(10, bob.pub))
		t2 := makeTx(t, []ledger.OutputID{genesisID(1)}, []account{bob}, ledger.NewOutput(5, alice.pub))
		p1 := NewProcessor(pool)
		p2 := NewProcessor(pool)
		p1.ApplyEpoch([]*ledger.Transaction{t1, t2})
		p2.ApplyEpoch([]*ledger.Transaction{t1, t2})
		require.True(t, p1.Pool().Equal(p2.Pool()))
		require.EqualValues(t, p1.Commitment().String(), p2.Commitment().String())
	})
}

func TestOrdering(t *testing.T) {
	pool, alice, bob := initPool()
	lowFee := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(9, bob.pub))
	highFee := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(2, bob.pub))

	t.Run("presentation order by default", func(t *testing.T) {
		p := NewProcessor(pool)
		acc := p.ApplyEpoch([]*ledger.Transaction{lowFee, highFee})
		require.EqualValues(t, 1, len(acc))
		require.EqualValues(t, lowFee.ID(), acc[0].ID())
	})
	t.Run("fee descending", func(t *testing.T) {
		p := NewProcessor(pool, WithOrdering(ByFeeDescending))
		candidates := []*ledger.Transaction{lowFee, highFee}
		acc := p.ApplyEpoch(candidates)
		require.EqualValues(t, 1, len(acc))
		require.EqualValues(t, highFee.ID(), acc[0].ID())
		// caller's slice is not reordered
		require.EqualValues(t, lowFee.ID(), candidates[0].ID())
		require.EqualValues(t, 8, Fee(highFee, pool))
		require.EqualValues(t, 1, Fee(lowFee, pool))
	})
	t.Run("by id", func(t *testing.T) {
		p := NewProcessor(pool, WithOrdering(ByID))
		acc := p.ApplyEpoch([]*ledger.Transaction{lowFee, highFee})
		require.EqualValues(t, 1, len(acc))
		first := lowFee
		if lessByID(highFee, lowFee) {
			first = highFee
		}
		require.EqualValues(t, first.ID(), acc[0].ID())

		list := []*ledger.Transaction{nil, highFee, lowFee}
		ByID(list, pool)
		require.Nil(t, list[2])
	})
	t.Run("hook can't reach the pool of the processor", func(t *testing.T) {
		p := NewProcessor(pool, WithOrdering(func(candidates []*ledger.Transaction, sr StateReader) {
			_, isPool := sr.(*state.Pool)
			require.False(t, isPool)
			require.True(t, sr.Contains(genesisID(0)))
			o, found := sr.Get(genesisID(0))
			require.True(t, found)
			require.EqualValues(t, 10, o.Amount)
		}))
		acc := p.ApplyEpoch([]*ledger.Transaction{lowFee})
		require.EqualValues(t, 1, len(acc))
	})
	t.Run("unknown inputs contribute nothing", func(t *testing.T) {
		tx := makeTx(t, []ledger.OutputID{genesisID(9)}, []account{alice}, ledger.NewOutput(3, bob.pub))
		require.EqualValues(t, -3, Fee(tx, pool))
	})
}

func TestMetrics(t *testing.T) {
	pool, alice, bob := initPool()
	reg := prometheus.NewRegistry()
	p := NewProcessor(pool, WithMetrics(reg))
	m := p.metrics
	require.EqualValues(t, 2, testutil.ToFloat64(m.poolSize))

	good := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(6, bob.pub), ledger.NewOutput(4, alice.pub))
	conflict := makeTx(t, []ledger.OutputID{genesisID(0)}, []account{alice}, ledger.NewOutput(10, bob.pub))
	inflate := makeTx(t, []ledger.OutputID{genesisID(1)}, []account{bob}, ledger.NewOutput(50, bob.pub))
	p.ApplyEpoch([]*ledger.Transaction{good, conflict, inflate, nil})

	require.EqualValues(t, 1, testutil.ToFloat64(m.epochs))
	require.EqualValues(t, 4, testutil.ToFloat64(m.candidates))
	require.EqualValues(t, 1, testutil.ToFloat64(m.accepts))
	require.EqualValues(t, 1, testutil.ToFloat64(m.rejects.WithLabelValues("input_not_found")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.rejects.WithLabelValues("overspend")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.rejects.WithLabelValues("nil")))
	require.EqualValues(t, 3, testutil.ToFloat64(m.poolSize))

	require.Panics(t, func() {
		NewProcessor(pool, WithMetrics(reg))
	})
}

func TestReasonLabel(t *testing.T) {
	require.EqualValues(t, "ok", reasonLabel(nil))
	require.EqualValues(t, "overflow", reasonLabel(errors.Wrap(ErrArithmeticOverflow, "x")))
	require.EqualValues(t, "other", reasonLabel(errors.New("x")))
}
