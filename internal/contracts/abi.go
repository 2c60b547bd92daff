// Package contracts holds the ABI fragments the engine needs from the
// BankBackedToken and BankOracle contracts. Only the methods the backend
// actually calls are declared.
package contracts

// BankBackedTokenABI covers the ERC-20 surface plus the backing extensions.
const BankBackedTokenABI = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"masterMinter","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"bankOracle","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"adminMintBacked","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]}
]`

// BankOracleABI covers the account linkage and backed-balance updates.
const BankOracleABI = `[
  {"type":"function","name":"linkAccount","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"accountId","type":"string"}],"outputs":[]},
  {"type":"function","name":"updateBalance","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"accountId","type":"string"},{"name":"balance","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"linkedAccount","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"backedBalance","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`
