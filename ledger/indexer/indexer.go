package indexer

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/lunfardo314/epochledger"
	"github.com/lunfardo314/epochledger/ledger"
	"github.com/lunfardo314/unitrie/common"
	"golang.org/x/crypto/ed25519"
)

// Indexer keeps output IDs by owner. The index may contain spent outputs,
// they are filtered out against the pool when read
type Indexer struct {
	mutex sync.RWMutex
	store Store
}

type (
	Store interface {
		common.BatchedUpdatable
		common.Traversable
		common.KVReader
	}

	IndexEntry struct {
		Owner    ed25519.PublicKey
		OutputID ledger.OutputID
		Delete   bool
	}

	UTXOReader interface {
		GetUTXO(oid ledger.OutputID) (ledger.Output, bool)
	}
)

func NewIndexer(store Store) *Indexer {
	return &Indexer{
		store: store,
	}
}

// NewInMemory mostly for testing
func NewInMemory() *Indexer {
	return NewIndexer(common.NewInMemoryKVStore())
}

func (inr *Indexer) GetUTXOsForOwner(owner ed25519.PublicKey, state UTXOReader) ([]ledger.OutputWithID, error) {
	inr.mutex.RLock()
	defer inr.mutex.RUnlock()

	prefix, err := ownerPrefix(owner)
	if err != nil {
		return nil, err
	}
	ret := make([]ledger.OutputWithID, 0)
	inr.store.Iterator(prefix).Iterate(func(k, _ []byte) bool {
		var o ledger.OutputWithID
		if o.ID, err = ledger.OutputIDFromBytes(k[len(prefix):]); err != nil {
			return false
		}
		var found bool
		if o.Output, found = state.GetUTXO(o.ID); !found {
			return true
		}
		ret = append(ret, o)
		return true
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (inr *Indexer) Update(entries []IndexEntry) error {
	inr.mutex.Lock()
	defer inr.mutex.Unlock()

	w := inr.store.BatchedWriter()
	for _, e := range entries {
		prefix, err := ownerPrefix(e.Owner)
		if err != nil {
			return err
		}
		if e.Delete {
			w.Set(epochledger.Concat(prefix, e.OutputID), nil)
		} else {
			w.Set(epochledger.Concat(prefix, e.OutputID), []byte{0xff})
		}
	}
	return w.Commit()
}

// ownerPrefix is the owner with its 2-byte length in front, so that no owner's prefix is a prefix of another's keys
func ownerPrefix(owner ed25519.PublicKey) ([]byte, error) {
	if len(owner) > math.MaxUint16 {
		return nil, errors.Errorf("indexer: owner is too long: %d bytes", len(owner))
	}
	var size [2]byte
	binary.BigEndian.PutUint16(size[:], uint16(len(owner)))
	return epochledger.Concat(size[:], []byte(owner)), nil
}
