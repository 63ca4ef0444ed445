package chain

import (
	"encoding/binary"
	"net"
)

// taoStakeBlend is the fixed blending constant applied to root-network stake
// when ranking subnet nodes.
const taoStakeBlend = 0.18

// Node is one registered identity on the subnet, as reported by the ledger.
type Node struct {
	Hotkey      string  `json:"hotkey"`
	Coldkey     string  `json:"coldkey"`
	NodeID      int     `json:"node_id"`
	Netuid      int     `json:"netuid"`
	IP          string  `json:"ip"`
	Port        int     `json:"port"`
	AlphaStake  float64 `json:"alpha_stake"`
	TaoStake    float64 `json:"tao_stake"`
	Stake       float64 `json:"stake"`
	Incentive   float64 `json:"incentive"`
	LastUpdated float64 `json:"last_updated"`
}

// StakeWeight blends subnet and root stake into the ranking used to decide
// which nodes are worth syncing from.
func (n Node) StakeWeight() float64 {
	return n.AlphaStake + taoStakeBlend*n.TaoStake
}

// HasEndpoint reports whether the node advertises a dialable address. Nodes
// that never served an axon carry the 0.0.0.0 placeholder.
func (n Node) HasEndpoint() bool {
	return n.IP != "" && n.IP != "0.0.0.0" && n.Port > 0
}

// ParseIP renders the ledger's packed big-endian IPv4 integer as a dotted
// quad.
func ParseIP(packed uint32) string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, packed)
	return net.IP(b).String()
}
