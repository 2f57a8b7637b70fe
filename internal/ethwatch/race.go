package ethwatch

import (
	"math/big"
	"time"

	"github.com/pvzzle/nonceguard/internal/chain"
	"github.com/pvzzle/nonceguard/internal/races"

	"github.com/ethereum/go-ethereum/common"
)

// RequiredConfirmations is the depth after which a replacement is treated as final.
// A race completes on the first count strictly above it.
const RequiredConfirmations = 12

type State int32

const (
	StateIdle State = iota
	StateSubscribed
	StateEvaluating
	StateBroadcasting
	StateTracking
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StateEvaluating:
		return "evaluating"
	case StateBroadcasting:
		return "broadcasting"
	case StateTracking:
		return "tracking"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Race is the broadcast state of one replacement. After the replacement is
// broadcast it belongs to its tracker goroutine alone.
type Race struct {
	Original      chain.PendingTx
	Replacement   common.Hash
	GasPrice      *big.Int
	State         State
	Confirmations uint64
	Terminal      bool
	StartedAt     time.Time
}

// observe applies a confirmation. changed is false when the update was ignored,
// either because the race is already terminal or because the count went backwards.
func (r *Race) observe(c chain.Confirmation) (done, changed bool) {
	if r.Terminal {
		return true, false
	}
	if c.Count < r.Confirmations {
		return false, false
	}

	r.Confirmations = c.Count
	if c.Count > RequiredConfirmations {
		r.Terminal = true
		r.State = StateCompleted
		return true, true
	}
	return false, true
}

func (r *Race) snapshot() races.Snapshot {
	s := races.Snapshot{
		State:         r.State.String(),
		Confirmations: r.Confirmations,
		Done:          r.Terminal,
	}
	if r.Replacement != (common.Hash{}) {
		h := r.Replacement
		s.Replacement = &h
	}
	if r.GasPrice != nil {
		s.GasPriceWei = new(big.Int).Set(r.GasPrice)
	}
	return s
}
