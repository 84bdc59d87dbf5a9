package wallet

import (
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer signs transactions for one wallet address.
type Signer interface {
	Address() common.Address
	// SignTx signs tx for chainID using the latest signer rules for that
	// chain (EIP-155 and later).
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	// Release zeroes the signer's copy of the key. The signer is unusable
	// afterwards.
	Release()
}

// keySigner holds its own copy of a cached key so that Forget on the key
// store does not race an in-flight signature.
type keySigner struct {
	key  *crypto.PrivateKey
	addr common.Address
}

func newKeySigner(key *crypto.PrivateKey) (*keySigner, error) {
	raw := key.Serialize()
	defer zero(raw)
	cp, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		return nil, err
	}
	return &keySigner{key: cp, addr: cp.Address()}, nil
}

func (s *keySigner) Address() common.Address { return s.addr }

func (s *keySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s.key == nil {
		return nil, fmt.Errorf("sign tx: signer released")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("sign tx: invalid chain id")
	}
	priv, err := s.key.ECDSA()
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	defer priv.D.SetInt64(0)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), priv)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}

func (s *keySigner) Release() {
	if s.key != nil {
		s.key.Zero()
		s.key = nil
	}
}
