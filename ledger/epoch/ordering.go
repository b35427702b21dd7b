package epoch

import (
	"bytes"
	"sort"

	"github.com/lunfardo314/epochledger/ledger"
)

type (
	// StateReader is read-only access to the pool given to the ordering hook
	StateReader interface {
		Contains(oid ledger.OutputID) bool
		Get(oid ledger.OutputID) (ledger.Output, bool)
	}

	// Ordering reorders candidates in place before the epoch is processed.
	// It sees the pool as it is at the start of the epoch
	Ordering func(candidates []*ledger.Transaction, pool StateReader)
)

// ByID orders candidates by ascending transaction ID. Nil candidates go last
func ByID(candidates []*ledger.Transaction, _ StateReader) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return lessByID(candidates[i], candidates[j])
	})
}

// ByFeeDescending puts candidates with higher implicit fee first, ties are broken by ID.
// Inputs not found in the pool contribute nothing to the fee
func ByFeeDescending(candidates []*ledger.Transaction, pool StateReader) {
	fees := make(map[*ledger.Transaction]ledger.Amount, len(candidates))
	for _, tx := range candidates {
		if tx != nil {
			fees[tx] = Fee(tx, pool)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ti, tj := candidates[i], candidates[j]
		if ti == nil || tj == nil {
			return lessByID(ti, tj)
		}
		if fees[ti] != fees[tj] {
			return fees[ti] > fees[tj]
		}
		return lessByID(ti, tj)
	})
}

// Fee is the difference between known inputs and outputs. Overflow yields the minimum
func Fee(tx *ledger.Transaction, pool StateReader) ledger.Amount {
	const minFee = ledger.Amount(-1 << 63)
	var inSum ledger.Amount
	var ok bool
	for _, oid := range tx.InputIDs() {
		if out, found := pool.Get(oid); found {
			if inSum, ok = ledger.SafeAdd(inSum, out.Amount); !ok {
				return minFee
			}
		}
	}
	outSum, ok := tx.OutputSum()
	if !ok || outSum == minFee {
		return minFee
	}
	ret, ok := ledger.SafeAdd(inSum, -outSum)
	if !ok {
		return minFee
	}
	return ret
}

func lessByID(a, b *ledger.Transaction) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	}
	ida, idb := a.ID(), b.ID()
	return bytes.Compare(ida[:], idb[:]) < 0
}
