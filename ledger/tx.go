// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// TxKind discriminates the closed set of transaction variants. Every
// switch over TxKind must handle all four kinds and fail on anything
// else, so a new kind cannot be silently mis-handled.
type TxKind string

const (
	TxKindMint       TxKind = "mint"
	TxKindTransfer   TxKind = "transfer"
	TxKindEngagement TxKind = "engagement"
	TxKindGovernance TxKind = "governance"
)

// Tx is the tagged transaction union carried through the pool and into
// blocks. Exactly one payload pointer matching Kind is set.
type Tx struct {
	Kind       TxKind        `json:"kind"`
	Id         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Mint       *MintTx       `json:"mint,omitempty"`
	Transfer   *TransferTx   `json:"transfer,omitempty"`
	Engagement *EngagementTx `json:"engagement,omitempty"`
	Governance *GovernanceTx `json:"governance,omitempty"`
}

// MintTx records the split for one accepted sale. The buyer share is
// reserved against the claim address until redeemed.
type MintTx struct {
	SaleId          string `json:"sale_id"`
	NodeId          string `json:"node_id"`
	TotalUnits      uint64 `json:"total_units"`
	OwnerUnits      uint64 `json:"owner_units"`
	OperatorUnits   uint64 `json:"operator_units"`
	BuyerUnits      uint64 `json:"buyer_units"`
	CharityUnits    uint64 `json:"charity_units"`
	RoyaltyUnits    uint64 `json:"royalty_units"`
	OwnerAddress    string `json:"owner_address"`
	OperatorAddress string `json:"operator_address,omitempty"`
	CharityAddress  string `json:"charity_address"`
	RoyaltyAddress  string `json:"royalty_address,omitempty"`
	ClaimAddress    string `json:"claim_address"`
}

// TransferTx moves unrestricted security token units between identities
type TransferTx struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Units uint64 `json:"units"`
}

// EngagementTx credits utility token units for an engagement event. Units
// is the post-cap credited amount, fixed at submission time.
type EngagementTx struct {
	Identity          string `json:"identity"`
	EventKind         string `json:"event_kind"`
	Units             uint64 `json:"units"`
	PlatformReference string `json:"platform_reference,omitempty"`
}

// GovernanceTx anchors a governance action on chain. The proposal and
// vote records themselves live in the metadata store.
type GovernanceTx struct {
	ProposalId string `json:"proposal_id"`
	Action     string `json:"action"`
	Actor      string `json:"actor"`
}

// IsMint reports whether the transaction is a sale mint. Mints are
// prioritized in block assembly to bound claim latency.
func (t Tx) IsMint() bool {
	return t.Kind == TxKindMint
}

// WellFormed checks the stateless validity of a transaction: the payload
// matches the kind and all amounts are sane. Stateful checks (known sale,
// sufficient balance) happen against the ledger.
func (t Tx) WellFormed() error {
	if t.Id == "" {
		return fmt.Errorf("transaction has empty id")
	}
	switch t.Kind {
	case TxKindMint:
		if t.Mint == nil {
			return fmt.Errorf("mint transaction %s has no payload", t.Id)
		}
		m := t.Mint
		if m.SaleId == "" || m.NodeId == "" || m.ClaimAddress == "" {
			return fmt.Errorf("mint transaction %s missing identifiers", t.Id)
		}
		if m.TotalUnits == 0 {
			return fmt.Errorf("mint transaction %s has zero units", t.Id)
		}
		sum := m.OwnerUnits + m.OperatorUnits + m.BuyerUnits +
			m.CharityUnits + m.RoyaltyUnits
		if sum != m.TotalUnits {
			return fmt.Errorf(
				"mint transaction %s split sums to %d, want %d",
				t.Id,
				sum,
				m.TotalUnits,
			)
		}
		return nil
	case TxKindTransfer:
		if t.Transfer == nil {
			return fmt.Errorf("transfer transaction %s has no payload", t.Id)
		}
		if t.Transfer.From == "" || t.Transfer.To == "" {
			return fmt.Errorf("transfer transaction %s missing party", t.Id)
		}
		if t.Transfer.From == t.Transfer.To {
			return fmt.Errorf("transfer transaction %s is self-transfer", t.Id)
		}
		if t.Transfer.Units == 0 {
			return fmt.Errorf("transfer transaction %s has zero units", t.Id)
		}
		return nil
	case TxKindEngagement:
		if t.Engagement == nil {
			return fmt.Errorf("engagement transaction %s has no payload", t.Id)
		}
		if t.Engagement.Identity == "" {
			return fmt.Errorf("engagement transaction %s missing identity", t.Id)
		}
		return nil
	case TxKindGovernance:
		if t.Governance == nil {
			return fmt.Errorf("governance transaction %s has no payload", t.Id)
		}
		if t.Governance.ProposalId == "" {
			return fmt.Errorf("governance transaction %s missing proposal", t.Id)
		}
		return nil
	default:
		return fmt.Errorf("unknown transaction kind %q", t.Kind)
	}
}

// Serialize encodes the transaction for block inclusion and hashing
func (t Tx) Serialize() ([]byte, error) {
	return json.Marshal(t)
}

// DeserializeTx decodes a transaction from its block encoding
func DeserializeTx(data []byte) (Tx, error) {
	var tx Tx
	if err := json.Unmarshal(data, &tx); err != nil {
		return tx, err
	}
	return tx, nil
}
