package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/eth2030/idtree-core/identitytree"
	"github.com/eth2030/idtree-core/log"
)

// receiveRootABI is the bridged contract's root ingestion entry point.
const receiveRootABI = `[{"type":"function","name":"receiveRoot","stateMutability":"nonpayable","inputs":[{"name":"newRoot","type":"uint256"}],"outputs":[]}]`

// ethRelayer submits receiveRoot(uint256) transactions to a single bridge
// contract. A nil key puts it in dry-run mode: eligible roots are logged
// but never submitted.
type ethRelayer struct {
	client   *ethclient.Client
	contract common.Address
	key      *ecdsa.PrivateKey
	abi      abi.ABI
	logger   *log.Logger
}

func newEthRelayer(client *ethclient.Client, contract common.Address, privateKeyHex string) (*ethRelayer, error) {
	parsed, err := abi.JSON(strings.NewReader(receiveRootABI))
	if err != nil {
		return nil, fmt.Errorf("idtree-core: parsing receiveRoot ABI: %w", err)
	}
	r := &ethRelayer{
		client:   client,
		contract: contract,
		abi:      parsed,
		logger:   log.Default().Module("relayer").With("contract", contract.Hex()),
	}
	if privateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("idtree-core: parsing relayer private key: %w", err)
		}
		r.key = key
	}
	return r, nil
}

// LatestBlock implements statebridge.BlockSource.
func (r *ethRelayer) LatestBlock(ctx context.Context) (uint64, error) {
	return r.client.BlockNumber(ctx)
}

// RelayRoot implements statebridge.RootRelayer.
func (r *ethRelayer) RelayRoot(ctx context.Context, root identitytree.RootDescriptor) error {
	if r.key == nil {
		r.logger.Info("dry run: would relay root", "root", root.Hash.Hex(), "block", root.BlockNumber)
		return nil
	}

	data, err := r.abi.Pack("receiveRoot", root.Hash.BigInt())
	if err != nil {
		return fmt.Errorf("idtree-core: encoding receiveRoot call: %w", err)
	}

	chainID, err := r.client.ChainID(ctx)
	if err != nil {
		return err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(r.key, chainID)
	if err != nil {
		return err
	}
	nonce, err := r.client.PendingNonceAt(ctx, opts.From)
	if err != nil {
		return err
	}
	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return err
	}
	gas, err := r.client.EstimateGas(ctx, ethereum.CallMsg{
		From: opts.From,
		To:   &r.contract,
		Data: data,
	})
	if err != nil {
		return err
	}

	tx := types.NewTransaction(nonce, r.contract, big.NewInt(0), gas, gasPrice, data)
	signed, err := opts.Signer(opts.From, tx)
	if err != nil {
		return err
	}
	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return err
	}
	r.logger.Info("submitted receiveRoot", "tx", signed.Hash().Hex(), "root", root.Hash.Hex())
	return nil
}
