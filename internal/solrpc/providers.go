package solrpc

import "github.com/weichain/gsol-minter/internal/events"

// Provider is one Solana JSON-RPC endpoint.
type Provider struct {
	Name string
	URL  string
}

var (
	mainnetProviders = []Provider{
		{Name: "publicnode-mainnet", URL: "https://api.mainnet-beta.solana.com"},
	}
	devnetProviders = []Provider{
		{Name: "publicnode-devnet", URL: "https://api.devnet.solana.com"},
	}
)

// ProvidersForNetwork returns the provider list for a network. overrideURL,
// when non-empty, replaces the list with a single operator-configured
// endpoint.
func ProvidersForNetwork(network events.Network, overrideURL string) []Provider {
	if overrideURL != "" {
		return []Provider{{Name: "configured", URL: overrideURL}}
	}
	switch network {
	case events.NetworkMainnet:
		return mainnetProviders
	default:
		return devnetProviders
	}
}
