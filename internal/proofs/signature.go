package proofs

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "ZK-Intent-Fusion/internal/errors"
)

// SignatureVerifier 校验用户对承诺的 personal_sign 签名。
type SignatureVerifier struct{}

// NewSignatureVerifier 创建签名校验器。
func NewSignatureVerifier() *SignatureVerifier { return &SignatureVerifier{} }

// VerifyAuthorization 确认签名由 user 地址对 commitment 签出。
func (v *SignatureVerifier) VerifyAuthorization(user, commitment, signature string) error {
	if !common.IsHexAddress(user) {
		return invalidSignature("user %q is not an address", user)
	}
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return invalidSignature("signature must be %d hex bytes", crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(commitment)), sig)
	if err != nil {
		return invalidSignature("recover signer: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(user) {
		return invalidSignature("signature was not produced by %s", user)
	}
	return nil
}

func invalidSignature(format string, args ...any) error {
	return xerrors.New(xerrors.CodeValidation, fmt.Sprintf(format, args...), xerrors.WithMetadata("field", "signature"))
}
