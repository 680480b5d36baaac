package chainiotest

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcrunes/runeindexer/chainio"
	"github.com/btcrunes/runeindexer/er"
)

// MemChainClient is a scriptable in-memory chainio.ChainClient fake:
// tests append blocks with AppendBlock and edit the mempool set directly,
// driving the updater's tip-follow and mempool-sync loops deterministically
// without a running bitcoind.
type MemChainClient struct {
	mu sync.Mutex

	blocks  []*wire.MsgBlock
	hashes  []chainhash.Hash
	txs     map[chainhash.Hash]*wire.MsgTx
	mempool []chainhash.Hash

	// orphaned holds blocks a Reorg truncated off the active chain,
	// keyed by hash: a real bitcoind still answers getblock for a block
	// it has seen even after a competing chain overtook it, and Updater's
	// reorg handling depends on being able to refetch a just-reverted
	// block's txids by its (still known) hash.
	orphaned map[chainhash.Hash]*wire.MsgBlock
}

// NewMemChainClient returns a client with no blocks and an empty mempool.
func NewMemChainClient() *MemChainClient {
	return &MemChainClient{
		txs:      make(map[chainhash.Hash]*wire.MsgTx),
		orphaned: make(map[chainhash.Hash]*wire.MsgBlock),
	}
}

var _ chainio.ChainClient = (*MemChainClient)(nil)

// AppendBlock adds a new tip block and indexes its transactions for
// GetRawTransaction lookups.
func (c *MemChainClient) AppendBlock(b *wire.MsgBlock) chainhash.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := b.BlockHash()
	c.blocks = append(c.blocks, b)
	c.hashes = append(c.hashes, h)
	for _, tx := range b.Transactions {
		c.txs[tx.TxHash()] = tx
	}
	return h
}

// SetMempool replaces the fake's mempool txid set wholesale.
func (c *MemChainClient) SetMempool(txids []chainhash.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mempool = txids
}

// AddMempoolTx registers tx as both a mempool member and a
// GetRawTransaction-resolvable transaction.
func (c *MemChainClient) AddMempoolTx(tx *wire.MsgTx) chainhash.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := tx.TxHash()
	c.txs[h] = tx
	c.mempool = append(c.mempool, h)
	return h
}

// Reorg truncates the chain back to height (inclusive) and appends
// newBlocks on top, simulating bitcoind switching to a competing chain.
func (c *MemChainClient) Reorg(height int64, newBlocks []*wire.MsgBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := height + 1; i < int64(len(c.blocks)); i++ {
		c.orphaned[c.hashes[i]] = c.blocks[i]
	}
	c.blocks = c.blocks[:height+1]
	c.hashes = c.hashes[:height+1]
	for _, b := range newBlocks {
		h := b.BlockHash()
		c.blocks = append(c.blocks, b)
		c.hashes = append(c.hashes, h)
		for _, tx := range b.Transactions {
			c.txs[tx.TxHash()] = tx
		}
	}
}

func (c *MemChainClient) GetBlockCount() (int64, er.R) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.blocks)) - 1, nil
}

func (c *MemChainClient) GetBlockHash(height int64) (chainhash.Hash, er.R) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height < 0 || int(height) >= len(c.hashes) {
		return chainhash.Hash{}, chainio.ErrNotFound.Default()
	}
	return c.hashes[height], nil
}

func (c *MemChainClient) GetBlock(hash chainhash.Hash) (*wire.MsgBlock, er.R) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, h := range c.hashes {
		if h == hash {
			return c.blocks[i], nil
		}
	}
	if b, ok := c.orphaned[hash]; ok {
		return b, nil
	}
	return nil, chainio.ErrNotFound.Default()
}

func (c *MemChainClient) GetRawTransaction(txid chainhash.Hash) (*wire.MsgTx, er.R) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[txid]
	if !ok {
		return nil, chainio.ErrNotFound.Default()
	}
	return tx, nil
}

func (c *MemChainClient) GetRawMempool() ([]chainhash.Hash, er.R) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chainhash.Hash, len(c.mempool))
	copy(out, c.mempool)
	return out, nil
}
