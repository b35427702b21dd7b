package state

import (
	"sort"

	"github.com/dolthub/swiss"
	"github.com/lunfardo314/epochledger/ledger"
	"github.com/lunfardo314/unitrie/common"
	"github.com/lunfardo314/unitrie/immutable"
	"github.com/lunfardo314/unitrie/models/trie_blake2b"
)

// Pool is the set of unspent outputs. It is not thread safe: it is owned by exactly one user
type Pool struct {
	m *swiss.Map[ledger.OutputID, ledger.Output]
}

const defaultPoolCapacity = 1024

// commitment model singleton

var commitmentModel = trie_blake2b.New(common.PathArity16, trie_blake2b.HashSize256)

var poolTrieIdentity = []byte("epochledger.pool")

func NewPool(capacity ...int) *Pool {
	c := defaultPoolCapacity
	if len(capacity) > 0 && capacity[0] > 0 {
		c = capacity[0]
	}
	return &Pool{
		m: swiss.NewMap[ledger.OutputID, ledger.Output](uint32(c)),
	}
}

// NewPoolFromOutputs creates pool from the genesis snapshot
func NewPoolFromOutputs(outs ...ledger.OutputWithID) *Pool {
	ret := NewPool(len(outs))
	for _, o := range outs {
		ret.Insert(o.ID, o.Output)
	}
	return ret
}

func (p *Pool) Contains(oid ledger.OutputID) bool {
	return p.m.Has(oid)
}

// Get returns a copy of the output
func (p *Pool) Get(oid ledger.OutputID) (ledger.Output, bool) {
	ret, ok := p.m.Get(oid)
	if !ok {
		return ledger.Output{}, false
	}
	return ret.Clone(), true
}

// Insert overwrites existing output with the same ID
func (p *Pool) Insert(oid ledger.OutputID, out ledger.Output) {
	p.m.Put(oid, out.Clone())
}

// Remove is a no-op if output is absent
func (p *Pool) Remove(oid ledger.OutputID) {
	p.m.Delete(oid)
}

func (p *Pool) Len() int {
	return p.m.Count()
}

// Clone makes an independent deep copy
func (p *Pool) Clone() *Pool {
	ret := NewPool(p.Len())
	p.m.Iter(func(oid ledger.OutputID, out ledger.Output) bool {
		ret.m.Put(oid, out.Clone())
		return false
	})
	return ret
}

// ForEach iterates in non-deterministic order. The callback receives copies
func (p *Pool) ForEach(fun func(oid ledger.OutputID, out ledger.Output) bool) {
	p.m.Iter(func(oid ledger.OutputID, out ledger.Output) bool {
		return !fun(oid, out.Clone())
	})
}

func (p *Pool) SortedIDs() []ledger.OutputID {
	ret := make([]ledger.OutputID, 0, p.Len())
	p.m.Iter(func(oid ledger.OutputID, _ ledger.Output) bool {
		ret = append(ret, oid)
		return false
	})
	sort.Slice(ret, func(i, j int) bool {
		return ledger.LessOutputID(ret[i], ret[j])
	})
	return ret
}

// Equal compares content
func (p *Pool) Equal(other *Pool) bool {
	if p.Len() != other.Len() {
		return false
	}
	equal := true
	p.m.Iter(func(oid ledger.OutputID, out ledger.Output) bool {
		o, ok := other.m.Get(oid)
		if !ok || o.Amount != out.Amount || !o.IsOwnedBy(out.Owner) {
			equal = false
		}
		return !equal
	})
	return equal
}

// Commitment is a root of the trie over the content of the pool. It does not depend on the order of updates
func (p *Pool) Commitment() common.VCommitment {
	store := common.NewInMemoryKVStore()
	emptyRoot := immutable.MustInitRoot(store, commitmentModel, poolTrieIdentity)
	trie, err := immutable.NewTrieChained(commitmentModel, store, emptyRoot)
	common.AssertNoError(err)

	for _, oid := range p.SortedIDs() {
		out, _ := p.m.Get(oid)
		trie.Update(oid[:], out.Bytes())
	}
	trie = trie.CommitChained()
	return trie.Root()
}
