package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/lunfardo314/epochledger/ledger"
	"github.com/lunfardo314/epochledger/ledger/epoch"
	"github.com/lunfardo314/epochledger/ledger/mempool"
	"github.com/lunfardo314/epochledger/ledger/txbuilder"
	"github.com/lunfardo314/epochledger/ledger/utxodb"
	"github.com/lunfardo314/epochledger/util/testutil"
	"github.com/mr-tron/base58"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/crypto/ed25519"
)

const (
	cfgConfig    = "config"
	cfgEpochs    = "epochs"
	cfgTxs       = "txs"
	cfgConflicts = "conflicts"
	cfgWorkers   = "workers"
	cfgOrdering  = "ordering"
	cfgSeed      = "seed"
	cfgDebug     = "debug"

	initialFunds = ledger.Amount(1_000_000)
)

func init() {
	flag.String(cfgConfig, "", "optional config file")
	flag.Int(cfgEpochs, 5, "number of epochs")
	flag.Int(cfgTxs, 20, "number of non-conflicting candidates per epoch")
	flag.Float64(cfgConflicts, 0.2, "number of double spending candidates as a fraction of --txs")
	flag.Int(cfgWorkers, 8, "number of workers building candidates")
	flag.String(cfgOrdering, "presentation", "order of candidates in epoch: presentation, id or fee")
	flag.Int64(cfgSeed, 1, "random seed")
	flag.Bool(cfgDebug, false, "debug logging")
}

type account struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

type simulator struct {
	log      *zap.SugaredLogger
	u        *utxodb.UTXODB
	accounts []account
	rnd      *rand.Rand
	workers  *ants.Pool
}

func main() {
	flag.Parse()
	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		panic(err)
	}
	if cfgFile := viper.GetString(cfgConfig); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "can't read config file: %v\n", err)
			os.Exit(1)
		}
	}
	log := testutil.NewLogger(viper.GetBool(cfgDebug), "15:04:05.000").Named("epochsim")
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Errorf("simulation failed: %v", err)
		os.Exit(1)
	}
}

func orderingFromConfig(name string) (epoch.Ordering, error) {
	switch name {
	case "presentation", "":
		return nil, nil
	case "id":
		return epoch.ByID, nil
	case "fee":
		return epoch.ByFeeDescending, nil
	}
	return nil, fmt.Errorf("unknown ordering '%s'", name)
}

func run(log *zap.SugaredLogger) error {
	numTxs := viper.GetInt(cfgTxs)
	numConflicts := int(float64(numTxs) * viper.GetFloat64(cfgConflicts))
	ordering, err := orderingFromConfig(viper.GetString(cfgOrdering))
	if err != nil {
		return err
	}
	workers, err := ants.NewPool(viper.GetInt(cfgWorkers))
	if err != nil {
		return err
	}
	defer workers.Release()

	sim := &simulator{
		log:     log,
		u:       utxodb.NewUTXODB(),
		rnd:     rand.New(rand.NewSource(viper.GetInt64(cfgSeed))),
		workers: workers,
	}
	if err = sim.createAccounts(numTxs); err != nil {
		return err
	}

	// buffered for the last epoch settled by Stop
	results := make(chan *epoch.Result, 1)
	opts := []epoch.Option{
		epoch.WithLogger(log),
		epoch.WithMetrics(prometheus.NewRegistry()),
	}
	if ordering != nil {
		opts = append(opts, epoch.WithOrdering(ordering))
	}
	mp := mempool.New(epoch.NewProcessor(sim.u.Processor().Pool(), opts...),
		mempool.WithLogger(log),
		mempool.WithOnEpoch(func(res *epoch.Result) {
			results <- res
		}),
	)
	mp.Start()
	defer mp.Stop()

	totalAccepted, totalRejected := 0, 0
	for e := 0; e < viper.GetInt(cfgEpochs); e++ {
		candidates, err := sim.makeCandidates(numTxs, numConflicts)
		if err != nil {
			return err
		}
		for _, tx := range candidates {
			if err = mp.SubmitTransaction(tx); err != nil {
				return err
			}
		}
		if err = mp.SealEpoch(); err != nil {
			return err
		}
		res := <-results
		totalAccepted += len(res.Accepted)
		totalRejected += len(res.Rejected)

		// mirror the settled epoch in the local ledger. It must accept the same transactions
		mirror := sim.u.ApplyEpoch(res.Accepted)
		if len(mirror.Rejected) > 0 {
			return fmt.Errorf("epoch %d: mirror ledger rejected %d transactions", res.Epoch, len(mirror.Rejected))
		}
		log.Infof("epoch %d: candidates %d, accepted %d, rejected %d, commitment %s",
			res.Epoch, len(candidates), len(res.Accepted), len(res.Rejected), sim.u.Commitment().String())
	}
	stats := mp.Stats()
	log.Infof("done. Epochs %d, submitted %d, accepted %d, rejected %d, UTXOs %d",
		stats.Epochs, stats.Submitted, totalAccepted, totalRejected, sim.u.Processor().NumUTXOs())
	return nil
}

func (sim *simulator) createAccounts(n int) error {
	sim.accounts = make([]account, n)
	for i := range sim.accounts {
		priv, pub := sim.u.GenerateAddress(uint16(i))
		sim.accounts[i] = account{priv: priv, pub: pub}
		if err := sim.u.TokensFromFaucet(pub, initialFunds); err != nil {
			return err
		}
		sim.log.Debugf("account #%d: %s", i, base58.Encode(pub))
	}
	sim.log.Infof("%d accounts created with %d tokens each", n, initialFunds)
	return nil
}

type job struct {
	sender ed25519.PrivateKey
	target ed25519.PublicKey
	outs   []ledger.OutputWithID
	amount ledger.Amount
	fee    ledger.Amount
}

// makeCandidates makes a transfer from each account and a number of transfers which double spend
// outputs of the previous ones. Transactions are built and signed in parallel
func (sim *simulator) makeCandidates(numTxs, numConflicts int) ([]*ledger.Transaction, error) {
	jobs := make([]job, 0, numTxs+numConflicts)
	for i := 0; i < numTxs; i++ {
		j, err := sim.randomJob(i)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	for i := 0; i < numConflicts; i++ {
		j, err := sim.randomJob(sim.rnd.Intn(numTxs))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	sim.rnd.Shuffle(len(jobs), func(i, j int) {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	})

	ret := make([]*ledger.Transaction, len(jobs))
	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	for i := range jobs {
		idx := i
		wg.Add(1)
		if err := sim.workers.Submit(func() {
			defer wg.Done()
			j := jobs[idx]
			par := txbuilder.NewED25519TransferInputs(j.sender).
				WithOutputs(j.outs).
				WithAmount(j.amount).
				WithFee(j.fee).
				WithTargetOwner(j.target)
			ret[idx], errs[idx] = txbuilder.MakeTransferTransaction(par)
		}); err != nil {
			wg.Done()
			return nil, err
		}
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func (sim *simulator) randomJob(senderIdx int) (job, error) {
	sender := sim.accounts[senderIdx]
	outs, err := sim.u.OutputsOf(sender.pub)
	if err != nil {
		return job{}, err
	}
	txbuilder.SortOutputsByAmount(outs)
	balance := ledger.Amount(0)
	for _, o := range outs {
		balance += o.Output.Amount
	}
	if balance < 2 {
		return job{}, fmt.Errorf("account #%d has no funds", senderIdx)
	}
	return job{
		sender: sender.priv,
		target: sim.accounts[sim.rnd.Intn(len(sim.accounts))].pub,
		outs:   outs,
		amount: 1 + ledger.Amount(sim.rnd.Int63n(int64(balance/2))),
		fee:    ledger.Amount(sim.rnd.Intn(3)),
	}, nil
}
