package model

type Chain string

const (
	ChainSolana Chain = "solana"
)

func (c Chain) String() string {
	return string(c)
}

// Network is a Solana cluster name.
type Network string

const (
	NetworkMainnet Network = "mainnet-beta"
	NetworkDevnet  Network = "devnet"
	NetworkTestnet Network = "testnet"
)

func (n Network) String() string {
	return string(n)
}

// IsValid reports whether n names a known cluster.
func (n Network) IsValid() bool {
	switch n {
	case NetworkMainnet, NetworkDevnet, NetworkTestnet:
		return true
	}
	return false
}
