package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashtensor/validator/internal/chain"
	"github.com/hashtensor/validator/internal/version"
)

// PeerBinding is one registration record as served by a peer's
// /hotkey_workers endpoint.
type PeerBinding struct {
	Worker              string  `json:"worker"`
	Hotkey              string  `json:"hotkey"`
	RegistrationTime    float64 `json:"registration_time"`
	RegistrationTimeInt int64   `json:"registration_time_int"`
	Signature           string  `json:"signature"`
}

// PeerAPI is the HTTP surface of a remote validator, as far as sync needs it.
type PeerAPI interface {
	// Probe reports whether the node speaks this service's API.
	Probe(ctx context.Context, node chain.Node) bool
	// FetchBindings retrieves one page of the peer's registrations newer
	// than since.
	FetchBindings(ctx context.Context, node chain.Node, since float64, pageSize, pageNumber int) ([]PeerBinding, error)
}

// HTTPPeers talks to peers over plain HTTP at their advertised axon address.
type HTTPPeers struct {
	client *http.Client
}

func NewHTTPPeers(client *http.Client) *HTTPPeers {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPeers{client: client}
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func peerBaseURL(node chain.Node) string {
	return fmt.Sprintf("http://%s:%d", node.IP, node.Port)
}

// Probe checks the peer's /health descriptor for the expected service name
// and a compatible (same-major) version. Any failure means "not a peer".
func (p *HTTPPeers) Probe(ctx context.Context, node chain.Node) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peerBaseURL(node)+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	return health.Service == version.ServiceName && sameMajor(health.Version, version.Version)
}

func sameMajor(a, b string) bool {
	return majorOf(a) != "" && majorOf(a) == majorOf(b)
}

func majorOf(v string) string {
	major, _, _ := strings.Cut(strings.TrimPrefix(v, "v"), ".")
	return major
}

// FetchBindings pulls one page from the peer's /hotkey_workers endpoint.
func (p *HTTPPeers) FetchBindings(ctx context.Context, node chain.Node, since float64, pageSize, pageNumber int) ([]PeerBinding, error) {
	query := url.Values{
		"since_timestamp": {strconv.FormatFloat(since, 'f', -1, 64)},
		"page_size":       {strconv.Itoa(pageSize)},
		"page_number":     {strconv.Itoa(pageNumber)},
	}
	endpoint := peerBaseURL(node) + "/hotkey_workers?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching bindings: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer returned status %d", resp.StatusCode)
	}
	var bindings []PeerBinding
	if err := json.NewDecoder(resp.Body).Decode(&bindings); err != nil {
		return nil, fmt.Errorf("decoding bindings: %w", err)
	}
	return bindings, nil
}
