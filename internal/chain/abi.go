package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const poolABIJSON = `[
 {"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[
  {"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
 {"type":"function","name":"swapFeeBps","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint16"}]},
 {"type":"function","name":"feeSchedule","stateMutability":"view","inputs":[],"outputs":[
  {"name":"cliffFeeBps","type":"uint16"},{"name":"reductionBps","type":"uint16"},{"name":"periodSeconds","type":"uint32"},
  {"name":"periods","type":"uint16"},{"name":"activatedAt","type":"uint64"}]}
]`

const routerABIJSON = `[
 {"type":"function","name":"swapExactTokensForTokens","stateMutability":"nonpayable","inputs":[
  {"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},
  {"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
  "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

const vaultABIJSON = `[
 {"type":"function","name":"baseToken","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"quoteToken","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"split","stateMutability":"nonpayable","inputs":[
  {"name":"assetClass","type":"uint8"},{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"merge","stateMutability":"nonpayable","inputs":[
  {"name":"assetClass","type":"uint8"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

const erc20ABIJSON = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Parsed contract ABIs shared by the pool, vault and wallet adapters.
var (
	PoolABI   = mustParseABI(poolABIJSON)
	RouterABI = mustParseABI(routerABIJSON)
	VaultABI  = mustParseABI(vaultABIJSON)
	ERC20ABI  = mustParseABI(erc20ABIJSON)
)

func mustParseABI(raw string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: parse abi: " + err.Error())
	}
	return &parsed
}
