// Package web3 houses blockchain connectivity utilities: chain definitions
// loaded from YAML and the read-only client contract used to stamp executed
// positions with the destination chain's id and block height.
package web3
