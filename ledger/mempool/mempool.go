package mempool

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lunfardo314/epochledger"
	"github.com/lunfardo314/epochledger/ledger"
	"github.com/lunfardo314/epochledger/ledger/epoch"
	"github.com/lunfardo314/epochledger/util/fifoqueue"
	"github.com/lunfardo314/epochledger/util/waitingroom"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Mempool collects transactions into epochs and settles each epoch with the processor.
// Transaction bytes go through the parser stage into the open batch. The batch is closed by SealEpoch
// or by the epoch timer. Epochs are settled sequentially by one goroutine, in the order of submission
type Mempool struct {
	log       *zap.SugaredLogger
	processor *epoch.Processor
	parser    *fifoqueue.FIFOQueue[input]
	settler   *fifoqueue.FIFOQueue[input]
	period    time.Duration
	timer     *waitingroom.WaitingRoom
	onEpoch   func(res *epoch.Result)

	startOnce  sync.Once
	stopOnce   sync.Once
	timerMutex sync.Mutex
	stopped    atomic.Bool
	done       sync.WaitGroup

	numSubmitted atomic.Uint64
	numDropped   atomic.Uint64
	numSealed    atomic.Uint64
}

type (
	Option func(m *Mempool)

	// input is either transaction or the end of epoch marker
	input struct {
		txBytes []byte
		tx      *ledger.Transaction
		seal    bool
	}

	Stats struct {
		Submitted uint64
		Dropped   uint64
		Epochs    uint64
	}
)

var ErrStopped = errors.New("mempool is stopped")

func WithLogger(log *zap.SugaredLogger) Option {
	return func(m *Mempool) {
		m.log = log.Named("mempool")
	}
}

// WithEpochPeriod makes the mempool seal epochs periodically
func WithEpochPeriod(period time.Duration) Option {
	return func(m *Mempool) {
		m.period = period
	}
}

// WithOnEpoch sets callback called from the settling goroutine after each epoch
func WithOnEpoch(fun func(res *epoch.Result)) Option {
	return func(m *Mempool) {
		m.onEpoch = fun
	}
}

// New takes ownership of the processor. It must not be used by anyone else until the mempool is stopped
func New(processor *epoch.Processor, opts ...Option) *Mempool {
	ret := &Mempool{
		log:       zap.NewNop().Sugar(),
		processor: processor,
		parser:    fifoqueue.New[input](),
		settler:   fifoqueue.New[input](),
		onEpoch:   func(_ *epoch.Result) {},
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (m *Mempool) Start() {
	m.startOnce.Do(m.start)
}

func (m *Mempool) start() {
	m.done.Add(2)
	go m.parserLoop()
	go m.settlerLoop()

	if m.period > 0 {
		pollEvery := m.period / 10
		if pollEvery < time.Millisecond {
			pollEvery = time.Millisecond
		}
		m.timer = waitingroom.New(pollEvery)
		m.timer.CallDelayed(m.period, m.onTimer)
	}
	m.log.Infof("STARTED. Epoch period: %v", m.period)
}

func (m *Mempool) onTimer() {
	m.timerMutex.Lock()
	defer m.timerMutex.Unlock()

	if m.stopped.Load() {
		return
	}
	_ = m.SealEpoch()
	m.timer.CallDelayed(m.period, m.onTimer)
}

func (m *Mempool) parserLoop() {
	defer m.done.Done()

	log := m.log.Named("parser")
	m.parser.Consume(func(inp input) {
		if inp.seal {
			m.settler.Write(inp)
			return
		}
		var tx *ledger.Transaction
		err := epochledger.CatchPanicOrError(func() error {
			var err1 error
			tx, err1 = ledger.TransactionFromBytes(inp.txBytes)
			return err1
		})
		if err != nil {
			m.numDropped.Inc()
			log.Debugf("transaction bytes dropped. Reason: '%v'", err)
			return
		}
		log.Debugf("transaction parsed: %s", tx.ID().Short())
		m.settler.Write(input{tx: tx})
	})
	// close downstream
	m.settler.Close()
}

func (m *Mempool) settlerLoop() {
	defer m.done.Done()

	batch := make([]*ledger.Transaction, 0)
	m.settler.Consume(func(inp input) {
		if !inp.seal {
			batch = append(batch, inp.tx)
			return
		}
		m.settle(batch)
		batch = make([]*ledger.Transaction, 0)
	})
	if len(batch) > 0 {
		m.settle(batch)
	}
}

func (m *Mempool) settle(batch []*ledger.Transaction) {
	res := m.processor.ApplyEpochWithResult(batch)
	m.numSealed.Inc()
	m.log.Debugf("epoch %d settled: accepted %d, rejected %d", res.Epoch, len(res.Accepted), len(res.Rejected))
	m.onEpoch(res)
}

// Submit puts transaction bytes into the open epoch. Malformed transactions are dropped silently
func (m *Mempool) Submit(txBytes []byte) error {
	if !m.parser.TryWrite(input{txBytes: txBytes}) {
		return ErrStopped
	}
	m.numSubmitted.Inc()
	return nil
}

// SubmitTransaction is Submit for the parsed transaction
func (m *Mempool) SubmitTransaction(tx *ledger.Transaction) error {
	return m.Submit(tx.Bytes())
}

// SealEpoch closes the open epoch. All transactions submitted before are settled in it
func (m *Mempool) SealEpoch() error {
	if !m.parser.TryWrite(input{seal: true}) {
		return ErrStopped
	}
	return nil
}

// Stop settles transactions submitted so far as the last epoch and waits until the pipeline is done.
// After Stop the processor can be used by the caller again
func (m *Mempool) Stop() {
	m.stopOnce.Do(func() {
		m.timerMutex.Lock()
		m.stopped.Store(true)
		if m.timer != nil {
			m.timer.Stop()
		}
		m.timerMutex.Unlock()

		m.parser.Close()
		m.startOnce.Do(func() {
			// never started: consume nothing
			m.settler.Close()
		})
		m.done.Wait()
		m.log.Infof("STOPPED")
	})
}

func (m *Mempool) Stats() Stats {
	return Stats{
		Submitted: m.numSubmitted.Load(),
		Dropped:   m.numDropped.Load(),
		Epochs:    m.numSealed.Load(),
	}
}
