package races

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is a read-only copy of a race's progress, published by its tracker.
type Snapshot struct {
	Original      common.Hash
	Nonce         uint64
	Replacement   *common.Hash
	GasPriceWei   *big.Int
	State         string
	Confirmations uint64
	StartedAt     time.Time
	Done          bool
}

type entry struct {
	snap Snapshot
}

// Registry keeps one entry per claimed original transaction and the set of
// replacement hashes we broadcast ourselves.
type Registry struct {
	mu sync.RWMutex

	byOriginal map[common.Hash]*entry
	byNonce    map[uint64]common.Hash
	own        map[common.Hash]struct{}

	nonceDedup bool
	now        func() time.Time
}

func NewRegistry(nonceDedup bool) *Registry {
	return &Registry{
		byOriginal: make(map[common.Hash]*entry),
		byNonce:    make(map[uint64]common.Hash),
		own:        make(map[common.Hash]struct{}),
		nonceDedup: nonceDedup,
		now:        time.Now,
	}
}

// Claim reserves orig for a single race. It fails if orig is already claimed or,
// with nonce dedup, if another original with the same nonce holds the slot.
func (r *Registry) Claim(orig common.Hash, nonce uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byOriginal[orig]; ok {
		return false
	}
	if r.nonceDedup {
		if _, ok := r.byNonce[nonce]; ok {
			return false
		}
		r.byNonce[nonce] = orig
	}

	r.byOriginal[orig] = &entry{snap: Snapshot{
		Original:  orig,
		Nonce:     nonce,
		StartedAt: r.now(),
	}}
	return true
}

// Release drops a claim so a redelivered original can be raced again.
func (r *Registry) Release(orig common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.byOriginal[orig]
	if e == nil {
		return
	}
	if holder, ok := r.byNonce[e.snap.Nonce]; ok && holder == orig {
		delete(r.byNonce, e.snap.Nonce)
	}
	delete(r.byOriginal, orig)
}

func (r *Registry) MarkOwn(hash common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.own[hash] = struct{}{}
}

func (r *Registry) IsOwn(hash common.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.own[hash]
	return ok
}

// Update replaces the published snapshot for orig. Unknown originals are ignored.
func (r *Registry) Update(orig common.Hash, s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.byOriginal[orig]
	if e == nil {
		return
	}
	s.Original = orig
	s.Nonce = e.snap.Nonce
	s.StartedAt = e.snap.StartedAt
	e.snap = copySnapshot(s)
}

// Finish marks the race done. The claim stays so the original is never raced twice.
func (r *Registry) Finish(orig common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.byOriginal[orig]; e != nil {
		e.snap.Done = true
	}
}

func (r *Registry) Get(orig common.Hash) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.byOriginal[orig]
	if e == nil {
		return Snapshot{}, false
	}
	return copySnapshot(e.snap), true
}

// Active returns copies of all unfinished races, oldest first.
func (r *Registry) Active() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Snapshot
	for _, e := range r.byOriginal {
		if e.snap.Done {
			continue
		}
		out = append(out, copySnapshot(e.snap))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func copySnapshot(s Snapshot) Snapshot {
	out := s
	if s.Replacement != nil {
		h := *s.Replacement
		out.Replacement = &h
	}
	if s.GasPriceWei != nil {
		out.GasPriceWei = new(big.Int).Set(s.GasPriceWei)
	}
	return out
}
