// Package config also contains DEX-specific configuration surfaces.
package config

// Dex defines network endpoints and token mints for decentralized execution.
type Dex struct {
	Chain       string            `yaml:"chain"` // e.g. "solana"
	RpcURL      string            `yaml:"rpc_url"`
	Commitment  string            `yaml:"commitment"`   // processed|confirmed|finalized
	JupiterBase string            `yaml:"jupiter_base"` // https://quote-api.jup.ag
	SlippageBps int               `yaml:"slippage_bps"`
	Mints       map[string]string `yaml:"mints"` // symbol -> mint address
	Decimals    map[string]int32  `yaml:"decimals"`
}

// Wallet stores env-backed signing material metadata.
type Wallet struct {
	PrivateKeysEnv string `yaml:"private_keys_env"`
}
