package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Options struct {
	// ChainID is used for sender recovery. Asked from the node when nil.
	ChainID *big.Int
	// LookupRPS bounds TransactionByHash calls; <= 0 means unlimited.
	LookupRPS float64
	Logger    *zap.Logger
}

// Client implements the network operations the watcher needs on top of a
// websocket JSON-RPC connection.
type Client struct {
	rpc  *rpc.Client
	eth  *ethclient.Client
	geth *gethclient.Client

	chainID *big.Int
	signer  types.Signer
	lookups *rate.Limiter
	log     *zap.Logger
}

func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	c := &Client{
		rpc:  rc,
		eth:  ethclient.NewClient(rc),
		geth: gethclient.New(rc),
		log:  opts.Logger,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.log = c.log.Named("chain")

	chainID := opts.ChainID
	if chainID == nil || chainID.Sign() == 0 {
		chainID, err = c.eth.ChainID(ctx)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("chain id: %w", err)
		}
	}
	c.chainID = new(big.Int).Set(chainID)
	c.signer = types.LatestSignerForChainID(c.chainID)

	limit := rate.Inf
	burst := 1
	if opts.LookupRPS > 0 {
		limit = rate.Limit(opts.LookupRPS)
		burst = int(opts.LookupRPS)
		if burst < 1 {
			burst = 1
		}
	}
	c.lookups = rate.NewLimiter(limit, burst)

	return c, nil
}

func (c *Client) Close() { c.rpc.Close() }

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *Client) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	sub, err := c.geth.SubscribePendingTransactions(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("SubscribePendingTransactions: %w", err)
	}
	return sub, nil
}

// TransactionByHash returns ethereum.NotFound when the node no longer knows the hash,
// which is normal for pending transactions dropped from the mempool.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*PendingTx, error) {
	if err := c.lookups.Wait(ctx); err != nil {
		return nil, err
	}

	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ethereum.NotFound
	}

	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender of %s: %w", hash.Hex(), err)
	}

	return snapshot(tx, from), nil
}

func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, addr, nil)
}

func (c *Client) BroadcastRaw(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// SubscribeConfirmations follows new heads and reports how many blocks have been
// mined on top of the block that included hash. Counts are only emitted when they grow.
func (c *Client) SubscribeConfirmations(ctx context.Context, hash common.Hash) (ConfirmationSub, error) {
	headers := make(chan *types.Header, 16)

	hs, err := c.eth.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, fmt.Errorf("SubscribeNewHead: %w", err)
	}

	s := newConfirmationSub()
	go c.followConfirmations(ctx, hash, hs, headers, s)
	return s, nil
}

func (c *Client) followConfirmations(
	ctx context.Context,
	hash common.Hash,
	hs ethereum.Subscription,
	headers <-chan *types.Header,
	s *confirmationSub,
) {
	defer hs.Unsubscribe()

	var (
		last uint64
		seen bool
	)

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.quit:
			return

		case err := <-hs.Err():
			if err != nil {
				select {
				case s.errc <- err:
				default:
				}
			}
			return

		case h := <-headers:
			if h == nil || h.Number == nil {
				continue
			}

			receipt, err := c.eth.TransactionReceipt(ctx, hash)
			if err != nil {
				if !errors.Is(err, ethereum.NotFound) {
					c.log.Debug("receipt fetch failed", zap.Stringer("tx", hash), zap.Error(err))
				}
				continue
			}

			count, ok := confirmationsAt(h.Number, receipt.BlockNumber)
			if !ok || (seen && count <= last) {
				continue
			}
			seen, last = true, count

			select {
			case s.ch <- Confirmation{Count: count, Receipt: receipt}:
			case <-s.quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// confirmationsAt is the number of blocks on top of the inclusion block.
func confirmationsAt(head, included *big.Int) (uint64, bool) {
	if head == nil || included == nil || head.Cmp(included) < 0 {
		return 0, false
	}
	return new(big.Int).Sub(head, included).Uint64(), true
}

func snapshot(tx *types.Transaction, from common.Address) *PendingTx {
	out := &PendingTx{
		Hash:     tx.Hash(),
		From:     from,
		Nonce:    tx.Nonce(),
		GasPrice: new(big.Int),
		Gas:      tx.Gas(),
		Value:    new(big.Int),
		Type:     tx.Type(),
	}
	if to := tx.To(); to != nil {
		a := *to
		out.To = &a
	}
	if gp := tx.GasPrice(); gp != nil {
		out.GasPrice.Set(gp)
	}
	if v := tx.Value(); v != nil {
		out.Value.Set(v)
	}
	return out
}

type confirmationSub struct {
	ch   chan Confirmation
	errc chan error
	quit chan struct{}
	once sync.Once
}

func newConfirmationSub() *confirmationSub {
	return &confirmationSub{
		ch:   make(chan Confirmation),
		errc: make(chan error, 1),
		quit: make(chan struct{}),
	}
}

func (s *confirmationSub) Confirmations() <-chan Confirmation { return s.ch }
func (s *confirmationSub) Err() <-chan error                  { return s.errc }

func (s *confirmationSub) Unsubscribe() {
	s.once.Do(func() { close(s.quit) })
}
