package http

import (
	"crypto/ecdsa"
	"net/http"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/raidolabs/raido/models"
)

// HeaderSignature carries the hex-encoded secp256k1 signature of the
// keccak256 digest of the request body. The recovered address is the
// explicit caller identity for mutating calls.
const HeaderSignature = "X-Raido-Signature"

// SignBody signs the keccak256 digest of a request body. The returned string
// goes into the HeaderSignature header.
func SignBody(body []byte, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(crypto.Keccak256(body), key)
	if err != nil {
		return "", errors.New("signing request body failed").Wrap(err)
	}
	return hexutil.Encode(sig), nil
}

// RecoverCaller recovers the caller identity from the body signature of a
// mutating request.
func RecoverCaller(r *http.Request, body []byte) (common.Address, error) {
	sigHex := r.Header.Get(HeaderSignature)
	if sigHex == "" {
		return common.Address{}, errors.New("request is not signed").
			WithType(models.ErrTypeUnauthorized)
	}

	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, errors.New("decoding signature failed").
			WithType(models.ErrTypeUnauthorized).
			Wrap(err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.New("signature has a bad length").
			WithType(models.ErrTypeUnauthorized).
			WithTag("length", len(sig))
	}

	// Tolerate wallets that emit the legacy 27/28 recovery id.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte{}, sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(crypto.Keccak256(body), sig)
	if err != nil {
		return common.Address{}, errors.New("recovering caller identity failed").
			WithType(models.ErrTypeUnauthorized).
			Wrap(err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
