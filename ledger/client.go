/*
 * Copyright 2022-2023 Held Objects, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/heldobjects/passport/common"
)

// intrinsic tx gas plus a conservative per-byte allowance for calldata
const txGasBase = uint64(21000)
const txGasPerPayloadByte = uint64(68)

// Payload is the anchoring payload embedded in the transaction data, encoded
// as JSON per the anchoring convention for EVM chains
type Payload struct {
	Digest  string `json:"digest"`
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

// Receipt is the distilled result of a transaction receipt lookup; Confirmed
// false means not yet mined, Confirmed true with Status 0 means mined and
// failed, Status 1 means mined and succeeded
type Receipt struct {
	Confirmed   bool    `json:"confirmed"`
	Status      uint64  `json:"status"`
	BlockNumber *uint64 `json:"block_number,omitempty"`
}

// Client wraps RPC access to a public EVM ledger for anchoring submission and
// receipt lookup; constructed explicitly and passed in so callers and tests
// never depend on an ambient singleton
type Client struct {
	eth        *ethclient.Client
	chainID    *big.Int
	signingKey *ecdsa.PrivateKey
	from       ethcommon.Address
	recipient  ethcommon.Address
}

// NewClient initializes a ledger client against the given RPC endpoint
func NewClient(rpcURL string, chainID int64, signingKeyHex, recipient string) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, &UnavailableError{fmt.Sprintf("failed to dial ledger RPC endpoint %s; %s", rpcURL, err.Error())}
	}

	signingKey, err := crypto.HexToECDSA(signingKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger signing key; %s", err.Error())
	}

	if !ethcommon.IsHexAddress(recipient) {
		return nil, fmt.Errorf("failed to parse anchor recipient address: %s", recipient)
	}

	return &Client{
		eth:        eth,
		chainID:    big.NewInt(chainID),
		signingKey: signingKey,
		from:       crypto.PubkeyToAddress(signingKey.PublicKey),
		recipient:  ethcommon.HexToAddress(recipient),
	}, nil
}

// RequireLedger reads the ledger configuration from the environment and panics
// if a client cannot be initialized
func RequireLedger() *Client {
	rpcURL := os.Getenv("LEDGER_RPC_URL")
	common.PanicIfEmpty(rpcURL, "LEDGER_RPC_URL not configured")

	chainID, err := strconv.ParseInt(os.Getenv("LEDGER_CHAIN_ID"), 10, 64)
	if err != nil {
		common.Log.Panicf("failed to parse LEDGER_CHAIN_ID; %s", err.Error())
	}

	signingKey := os.Getenv("LEDGER_SIGNING_KEY")
	common.PanicIfEmpty(signingKey, "LEDGER_SIGNING_KEY not configured")

	recipient := os.Getenv("LEDGER_ANCHOR_ADDRESS")
	common.PanicIfEmpty(recipient, "LEDGER_ANCHOR_ADDRESS not configured")

	client, err := NewClient(rpcURL, chainID, signingKey, recipient)
	if err != nil {
		common.Log.Panicf("failed to initialize ledger client; %s", err.Error())
	}

	common.Log.Debugf("initialized ledger client for chain %d; anchoring from address: %s", chainID, client.from.Hex())
	return client
}

// Submit signs and broadcasts a transaction carrying the given anchoring
// payload; best-effort single network call -- it does not block for
// confirmation and is never retried internally, since a duplicate broadcast
// would mint a second ledger transaction for one logical anchoring intent
func (c *Client) Submit(ctx context.Context, payload *Payload) (*string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, &UnavailableError{fmt.Sprintf("failed to resolve pending nonce for %s; %s", c.from.Hex(), err.Error())}
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &UnavailableError{fmt.Sprintf("failed to resolve gas price; %s", err.Error())}
	}

	gasLimit := txGasBase + uint64(len(data))*txGasPerPayloadByte
	tx := types.NewTransaction(nonce, c.recipient, big.NewInt(0), gasLimit, gasPrice, data)

	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.signingKey)
	if err != nil {
		return nil, &RejectedError{fmt.Sprintf("failed to sign anchoring transaction; %s", err.Error())}
	}

	err = c.eth.SendTransaction(ctx, signed)
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			// the node parsed the request and explicitly rejected the transaction
			return nil, &RejectedError{fmt.Sprintf("anchoring transaction rejected by ledger; %s", err.Error())}
		}
		return nil, &UnavailableError{fmt.Sprintf("failed to broadcast anchoring transaction; %s", err.Error())}
	}

	hash := signed.Hash().Hex()
	common.Log.Debugf("broadcast %d-byte anchoring payload; tx hash: %s", len(data), hash)
	return &hash, nil
}

// GetReceipt fetches the receipt for the given transaction hash; idempotent
// and safe to call repeatedly
func (c *Client) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, ethcommon.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &Receipt{Confirmed: false}, nil
		}
		return nil, &UnavailableError{fmt.Sprintf("failed to fetch receipt for tx %s; %s", txHash, err.Error())}
	}

	blockNumber := receipt.BlockNumber.Uint64()
	return &Receipt{
		Confirmed:   true,
		Status:      receipt.Status,
		BlockNumber: &blockNumber,
	}, nil
}

// ExplorerTxURL returns a human-viewable explorer link for the given tx hash
func ExplorerTxURL(txHash string) string {
	return fmt.Sprintf("%s/tx/%s", common.ExplorerBaseURL, txHash)
}

// ExplorerBlockURL returns a human-viewable explorer link for the given block
func ExplorerBlockURL(blockNumber uint64) string {
	return fmt.Sprintf("%s/block/%d", common.ExplorerBaseURL, blockNumber)
}
