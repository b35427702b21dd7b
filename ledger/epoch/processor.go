package epoch

import (
	"github.com/cockroachdb/errors"
	"github.com/lunfardo314/easyfl"
	"github.com/lunfardo314/epochledger/ledger"
	"github.com/lunfardo314/epochledger/ledger/state"
	"github.com/lunfardo314/unitrie/common"
	"go.uber.org/zap"
)

type (
	// Processor owns a pool snapshot and applies epochs of candidate transactions to it.
	// It is not thread safe: all calls must come from one goroutine
	Processor struct {
		pool     *state.Pool
		verifier ledger.Verifier
		ordering Ordering
		log      *zap.SugaredLogger
		metrics  *metrics
		epoch    uint64
	}

	Option func(p *Processor)

	Rejection struct {
		Transaction *ledger.Transaction
		Reason      error
	}

	Result struct {
		Epoch    uint64
		Accepted []*ledger.Transaction
		Rejected []Rejection
	}
)

func WithVerifier(v ledger.Verifier) Option {
	return func(p *Processor) {
		p.verifier = v
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Processor) {
		p.log = log.Named("epoch")
	}
}

// WithOrdering sets the hook which reorders candidates of each epoch before they are processed
func WithOrdering(ord Ordering) Option {
	return func(p *Processor) {
		p.ordering = ord
	}
}

// NewProcessor makes a copy of the pool. The pool of the caller is never modified
func NewProcessor(pool *state.Pool, opts ...Option) *Processor {
	easyfl.Assert(pool != nil, "NewProcessor: pool can't be nil")
	ret := &Processor{
		pool:     pool.Clone(),
		verifier: ledger.ED25519Verifier,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.metrics.setPoolSize(ret.pool.Len())
	return ret
}

// Validate checks the transaction against the pool. It never modifies the pool.
// The checks are performed in the following order, the first failing one determines the result:
// (1) all claimed outputs exist in the pool
// (2) each input is signed by the owner of the claimed output over the payload of that input position
// (3) no output is claimed twice
// (4) all outputs are non-negative
// (5) sum of claimed outputs >= sum of produced outputs
func Validate(tx *ledger.Transaction, pool StateReader, verifier ledger.Verifier) error {
	if tx == nil {
		return ErrNilTransaction
	}
	consumed := make([]ledger.Output, tx.NumInputs())
	var err error
	var found bool
	tx.ForEachInput(func(i int, inp ledger.Input) bool {
		if consumed[i], found = pool.Get(inp.ID); !found {
			err = errors.Wrapf(ErrInputNotFound, "input #%d %s", i, inp.ID.Short())
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	tx.ForEachInput(func(i int, inp ledger.Input) bool {
		msg, err1 := tx.UnsignedPayload(i)
		easyfl.AssertNoError(err1)
		if !verifier.Verify(consumed[i].Owner, msg, inp.Signature) {
			err = errors.Wrapf(ErrInvalidSignature, "input #%d %s", i, inp.ID.Short())
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	claimed := make(map[ledger.OutputID]struct{}, tx.NumInputs())
	tx.ForEachInput(func(i int, inp ledger.Input) bool {
		if _, already := claimed[inp.ID]; already {
			err = errors.Wrapf(ErrDoubleSpend, "input #%d %s", i, inp.ID.Short())
			return false
		}
		claimed[inp.ID] = struct{}{}
		return true
	})
	if err != nil {
		return err
	}
	tx.ForEachOutput(func(i int, o ledger.Output) bool {
		if o.Amount < 0 {
			err = errors.Wrapf(ErrNegativeOutput, "output #%d: %d", i, o.Amount)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	var inSum ledger.Amount
	var ok bool
	for i := range consumed {
		if inSum, ok = ledger.SafeAdd(inSum, consumed[i].Amount); !ok {
			return errors.Wrap(ErrArithmeticOverflow, "sum of inputs")
		}
	}
	outSum, ok := tx.OutputSum()
	if !ok {
		return errors.Wrap(ErrArithmeticOverflow, "sum of outputs")
	}
	if outSum > inSum {
		return errors.Wrapf(ErrOverspend, "inputs %d, outputs %d", inSum, outSum)
	}
	return nil
}

// Validate checks the transaction against the current pool of the processor
func (p *Processor) Validate(tx *ledger.Transaction) error {
	return Validate(tx, p.pool, p.verifier)
}

func (p *Processor) IsValid(tx *ledger.Transaction) bool {
	return p.Validate(tx) == nil
}

// ApplyEpoch processes candidates one by one in the order presented (or in the order set by the
// ordering hook). Each valid candidate is applied to the pool before the next one is checked, so of
// two candidates claiming the same output only the first one is accepted
func (p *Processor) ApplyEpoch(candidates []*ledger.Transaction) []*ledger.Transaction {
	return p.ApplyEpochWithResult(candidates).Accepted
}

// ApplyEpochWithResult is ApplyEpoch which also reports rejected candidates with reasons
func (p *Processor) ApplyEpochWithResult(candidates []*ledger.Transaction) *Result {
	if p.ordering != nil {
		candidates = append([]*ledger.Transaction(nil), candidates...)
		p.ordering(candidates, readOnlyPool{p.pool})
	}
	ret := &Result{
		Epoch:    p.epoch,
		Accepted: make([]*ledger.Transaction, 0, len(candidates)),
	}
	for i, tx := range candidates {
		p.metrics.candidate()
		if err := p.Validate(tx); err != nil {
			p.log.Debugf("epoch %d: candidate #%d rejected: %v", p.epoch, i, err)
			p.metrics.rejected(reasonLabel(err))
			ret.Rejected = append(ret.Rejected, Rejection{Transaction: tx, Reason: err})
			continue
		}
		p.apply(tx)
		p.metrics.accepted()
		ret.Accepted = append(ret.Accepted, tx)
	}
	p.metrics.epochDone(p.pool.Len())
	p.log.Infof("epoch %d: candidates %d, accepted %d, rejected %d, pool size %d",
		p.epoch, len(candidates), len(ret.Accepted), len(ret.Rejected), p.pool.Len())
	p.epoch++
	return ret
}

// readOnlyPool hides the pool owned by the processor from the ordering hook
type readOnlyPool struct {
	pool *state.Pool
}

func (r readOnlyPool) Contains(oid ledger.OutputID) bool {
	return r.pool.Contains(oid)
}

func (r readOnlyPool) Get(oid ledger.OutputID) (ledger.Output, bool) {
	return r.pool.Get(oid)
}

// apply must only be called for a valid transaction, so it either removes all claimed and inserts all
// produced outputs or panics
func (p *Processor) apply(tx *ledger.Transaction) {
	for _, oid := range tx.InputIDs() {
		easyfl.Assert(p.pool.Contains(oid), "apply: output %s not in the pool", oid.String())
		p.pool.Remove(oid)
	}
	tx.ForEachOutput(func(i int, o ledger.Output) bool {
		p.pool.Insert(tx.ProducedOutputID(i), o)
		return true
	})
}

// Pool returns a copy of the current pool
func (p *Processor) Pool() *state.Pool {
	return p.pool.Clone()
}

// GetUTXO returns a copy of the unspent output
func (p *Processor) GetUTXO(oid ledger.OutputID) (ledger.Output, bool) {
	return p.pool.Get(oid)
}

func (p *Processor) NumUTXOs() int {
	return p.pool.Len()
}

// Commitment of the current pool
func (p *Processor) Commitment() common.VCommitment {
	return p.pool.Commitment()
}

// Epoch returns the number of epochs processed
func (p *Processor) Epoch() uint64 {
	return p.epoch
}
