package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Keccak256 of the canonical EIP-712 type strings.
var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)
)

// Signer produces the EIP-712 ClobAuth signature used to derive API
// credentials from the CLOB. The service only ever signs auth messages for
// its own wallet address; it never signs orders.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID (137 for Polygon mainnet, 80002 for Amoy testnet).
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  clobAuthDomainSeparator(chainID),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs a ClobAuth message binding the signer's address to
// the given timestamp and nonce. The result is the hex-encoded 65-byte
// r || s || v signature the derive-api-key endpoint expects.
func (s *Signer) SignAuthMessage(timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(
		clobAuthTypeHash,
		common.BytesToHash(s.address.Bytes()).Bytes(),
		uint256Word(timestamp),
		uint256Word(nonce),
	)

	// keccak256("\x19\x01" || domainSeparator || structHash)
	digest := ethcrypto.Keccak256([]byte{0x19, 0x01}, s.domainSep, structHash)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 verifiers expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// clobAuthDomainSeparator hashes the ClobAuthDomain EIP-712 domain:
// keccak256(typeHash || keccak256(name) || keccak256(version) || chainId).
func clobAuthDomainSeparator(chainID int) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte("ClobAuthDomain")),
		ethcrypto.Keccak256([]byte("1")),
		uint256Word(int64(chainID)),
	)
}

// uint256Word encodes n as a 32-byte big-endian ABI word.
func uint256Word(n int64) []byte {
	return common.BigToHash(big.NewInt(n)).Bytes()
}
