package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hashtensor/validator/internal/signing"
)

// secondsInBlock bounds how long a cached node list stays fresh; subnet state
// cannot change faster than the chain produces blocks.
const secondsInBlock = 12 * time.Second

// ErrSubmissionFailed wraps any failure to land a weight transaction. The
// publisher retries on its normal cadence.
var ErrSubmissionFailed = errors.New("weight submission failed")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client talks JSON-RPC to a ledger node over a websocket. Calls are
// serialized on one connection; a broken connection is redialed on the next
// call.
type Client struct {
	url    string
	logger *zap.SugaredLogger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64

	cacheMu   sync.Mutex
	nodeCache map[int]nodeCacheEntry
}

type nodeCacheEntry struct {
	nodes   []Node
	fetched time.Time
}

// Dial connects to the ledger node at url.
func Dial(url string, logger *zap.SugaredLogger) (*Client, error) {
	c := &Client{
		url:       url,
		logger:    logger,
		nodeCache: make(map[int]nodeCacheEntry),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	c.logger.Infow("connecting to ledger node", "url", c.url)
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}
	c.conn = conn
	return nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connect(); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(deadline)

	c.nextID++
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params}
	if err := c.conn.WriteJSON(req); err != nil {
		c.drop()
		return fmt.Errorf("sending %s: %w", method, err)
	}

	for {
		var resp rpcResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.drop()
			return fmt.Errorf("reading %s response: %w", method, err)
		}
		if resp.ID != req.ID {
			// Stale response from an earlier timed-out call.
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, result)
	}
}

func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Nodes lists the subnet's registered nodes. Results are cached for one block
// so discovery, registration checks and weight submission within a tick share
// a single fetch.
func (c *Client) Nodes(ctx context.Context, netuid int) ([]Node, error) {
	c.cacheMu.Lock()
	entry, ok := c.nodeCache[netuid]
	c.cacheMu.Unlock()
	if ok && time.Since(entry.fetched) < secondsInBlock {
		return entry.nodes, nil
	}

	var nodes []Node
	err := c.call(ctx, "subnet_nodes", map[string]int{"netuid": netuid}, &nodes)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.nodeCache[netuid] = nodeCacheEntry{nodes: nodes, fetched: time.Now()}
	c.cacheMu.Unlock()
	return nodes, nil
}

// IsHotkeyRegistered reports whether the hotkey appears in the subnet's node
// list.
func (c *Client) IsHotkeyRegistered(ctx context.Context, netuid int, hotkey string) (bool, error) {
	nodes, err := c.Nodes(ctx, netuid)
	if err != nil {
		return false, err
	}
	for _, node := range nodes {
		if node.Hotkey == hotkey {
			return true, nil
		}
	}
	return false, nil
}

// setWeightsPayload is the signed portion of a weight submission; field order
// matches the sorted-key canonical JSON.
type setWeightsPayload struct {
	Netuid          int       `json:"netuid"`
	NodeIDs         []int     `json:"node_ids"`
	ValidatorNodeID int       `json:"validator_node_id"`
	VersionKey      uint64    `json:"version_key"`
	Weights         []float64 `json:"weights"`
}

type setWeightsParams struct {
	setWeightsPayload
	Hotkey    string `json:"hotkey"`
	Signature string `json:"signature"`
}

// SetNodeWeights signs and submits a weight vector for the subnet.
func (c *Client) SetNodeWeights(
	ctx context.Context,
	keypair *signing.Keypair,
	netuid, validatorNodeID int,
	nodeIDs []int,
	weights []float64,
	versionKey uint64,
) error {
	payload := setWeightsPayload{
		Netuid:          netuid,
		NodeIDs:         nodeIDs,
		ValidatorNodeID: validatorNodeID,
		VersionKey:      versionKey,
		Weights:         weights,
	}
	message, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	params := setWeightsParams{
		setWeightsPayload: payload,
		Hotkey:            keypair.Address(),
		Signature:         keypair.Sign(message),
	}
	if err := c.call(ctx, "subnet_setWeights", params, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	return nil
}
