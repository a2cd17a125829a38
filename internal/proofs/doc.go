// Package proofs provides the proof oracle used by the auction and the
// lifecycle: solver proof generation and verification bound to an intent
// commitment, execution proofs with final balance commitments, and optional
// EIP-191 signature checks for authorizations. Proofs are pass/fail oracles
// and make no soundness claims.
package proofs
