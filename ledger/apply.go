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
	"errors"
	"fmt"
	"time"

	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/event"
)

// ValidateTx checks a transaction against current ledger state for block
// validation. A double mint or an overdrawn transfer fails validation;
// the block carrying it is rejected, not merely flagged.
func (l *Ledger) ValidateTx(tx Tx, txn *database.Txn) error {
	if err := tx.WellFormed(); err != nil {
		return err
	}
	switch tx.Kind {
	case TxKindMint:
		sale, err := l.config.Database.SaleBySaleId(tx.Mint.SaleId, txn)
		if err != nil {
			if errors.Is(err, database.ErrKeyNotFound) {
				return fmt.Errorf("mint for unknown sale %s", tx.Mint.SaleId)
			}
			return err
		}
		if sale.Status != database.SaleStatusPending {
			return fmt.Errorf(
				"%w: sale %s is %s",
				ErrDoubleMint,
				sale.SaleId,
				sale.Status,
			)
		}
		return nil
	case TxKindTransfer:
		return l.checkTransfer(tx.Transfer, txn)
	case TxKindEngagement:
		// Balance effects were applied at acceptance; the block entry
		// only anchors the credit
		return nil
	case TxKindGovernance:
		return nil
	default:
		return fmt.Errorf("unknown transaction kind %q", tx.Kind)
	}
}

// SelectBlockTxs filters block candidates against a cumulative view of
// in-block effects. Per-transaction validation sees only committed state,
// so two transfers that each clear alone can jointly overdraw an address
// and poison every block they share. Selection tracks running debits and
// credits across the candidate list and drops the transaction that first
// exceeds them; dropped ids are returned so the caller can evict them
// instead of recycling them into the next proposal.
func (l *Ledger) SelectBlockTxs(txs []Tx) ([]Tx, []string) {
	txn := database.NewBlobOnlyTxn(l.config.Database, false)
	defer txn.Rollback() //nolint:errcheck
	var selected []Tx
	var dropped []string
	debits := make(map[string]uint64)
	credits := make(map[string]uint64)
	minted := make(map[string]bool)
	for _, tx := range txs {
		if err := l.ValidateTx(tx, txn); err != nil {
			dropped = append(dropped, tx.Id)
			continue
		}
		switch tx.Kind {
		case TxKindMint:
			if minted[tx.Mint.SaleId] {
				dropped = append(dropped, tx.Id)
				continue
			}
			minted[tx.Mint.SaleId] = true
		case TxKindTransfer:
			from, err := l.config.Database.SecurityBalanceByAddress(
				tx.Transfer.From,
				txn,
			)
			if err != nil {
				dropped = append(dropped, tx.Id)
				continue
			}
			available := from.Units + credits[tx.Transfer.From] - debits[tx.Transfer.From]
			if available < tx.Transfer.Units {
				dropped = append(dropped, tx.Id)
				continue
			}
			debits[tx.Transfer.From] += tx.Transfer.Units
			credits[tx.Transfer.To] += tx.Transfer.Units
		}
		selected = append(selected, tx)
	}
	return selected, dropped
}

// ApplyTx applies a committed transaction's balance effects within the
// block commit transaction. The switch is exhaustive over transaction
// kinds; an unknown kind fails the whole block.
func (l *Ledger) ApplyTx(tx Tx, height uint64, txn *database.Txn) error {
	switch tx.Kind {
	case TxKindMint:
		return l.applyMint(tx.Mint, height, txn)
	case TxKindTransfer:
		return l.applyTransfer(tx.Transfer, txn)
	case TxKindEngagement:
		// Credited at acceptance, nothing to apply
		return nil
	case TxKindGovernance:
		// Proposal and vote records live in the metadata store
		return nil
	default:
		return fmt.Errorf("unknown transaction kind %q", tx.Kind)
	}
}

func (l *Ledger) applyMint(
	mint *MintTx,
	height uint64,
	txn *database.Txn,
) error {
	sale, err := l.config.Database.SaleBySaleId(mint.SaleId, txn)
	if err != nil {
		return err
	}
	if sale.Status != database.SaleStatusPending {
		return fmt.Errorf(
			"%w: sale %s is %s",
			ErrDoubleMint,
			sale.SaleId,
			sale.Status,
		)
	}
	credits := []struct {
		address string
		units   uint64
	}{
		{mint.OwnerAddress, mint.OwnerUnits},
		{mint.OperatorAddress, mint.OperatorUnits},
		{mint.CharityAddress, mint.CharityUnits},
		{mint.RoyaltyAddress, mint.RoyaltyUnits},
	}
	for _, credit := range credits {
		if err := l.creditSecurity(credit.address, credit.units, txn); err != nil {
			return err
		}
	}
	// The buyer share stays reserved against the claim address until
	// redeemed
	reserved, err := l.config.Database.ReservedUnits(txn)
	if err != nil {
		return err
	}
	if err := l.config.Database.ReservedUnitsSet(
		reserved+mint.BuyerUnits,
		txn,
	); err != nil {
		return err
	}
	sale.Status = database.SaleStatusMinted
	sale.MintedAtHeight = height
	if err := l.config.Database.SaleUpdate(sale, txn); err != nil {
		return err
	}
	l.metrics.reservedUnits.Set(float64(reserved + mint.BuyerUnits))
	if l.config.EventBus != nil {
		l.config.EventBus.Publish(
			SaleMintedEventType,
			event.NewEvent(
				SaleMintedEventType,
				SaleMintedEvent{
					SaleId: mint.SaleId,
					Height: height,
				},
			),
		)
	}
	return nil
}

// checkTransfer verifies restriction and balance without mutating state
func (l *Ledger) checkTransfer(transfer *TransferTx, txn *database.Txn) error {
	from, err := l.config.Database.SecurityBalanceByAddress(transfer.From, txn)
	if err != nil {
		return err
	}
	if from.TransferRestricted {
		return fmt.Errorf("%w: %s", ErrTransferRestricted, transfer.From)
	}
	to, err := l.config.Database.SecurityBalanceByAddress(transfer.To, txn)
	if err != nil {
		return err
	}
	if to.TransferRestricted {
		return fmt.Errorf("%w: %s", ErrTransferRestricted, transfer.To)
	}
	if from.Units < transfer.Units {
		return fmt.Errorf(
			"%w: %s has %d, needs %d",
			ErrInsufficientBalance,
			transfer.From,
			from.Units,
			transfer.Units,
		)
	}
	return nil
}

// applyTransfer moves units between two identities. Both balances change
// within the caller's transaction, so no partial transfer is ever
// observable.
func (l *Ledger) applyTransfer(transfer *TransferTx, txn *database.Txn) error {
	unlock := l.locks.lockPair(transfer.From, transfer.To)
	defer unlock()
	if err := l.checkTransfer(transfer, txn); err != nil {
		return err
	}
	now := time.Now()
	from, err := l.config.Database.SecurityBalanceByAddress(transfer.From, txn)
	if err != nil {
		return err
	}
	from.Units -= transfer.Units
	from.UpdatedAt = now
	if err := l.config.Database.SecurityBalanceSet(from, txn); err != nil {
		return err
	}
	to, err := l.config.Database.SecurityBalanceByAddress(transfer.To, txn)
	if err != nil {
		return err
	}
	to.Address = transfer.To
	to.Units += transfer.Units
	to.UpdatedAt = now
	if err := l.config.Database.SecurityBalanceSet(to, txn); err != nil {
		return err
	}
	l.metrics.transfersApplied.Inc()
	if l.config.EventBus != nil {
		l.config.EventBus.Publish(
			TransferAppliedEventType,
			event.NewEvent(
				TransferAppliedEventType,
				TransferAppliedEvent{
					From:  transfer.From,
					To:    transfer.To,
					Units: transfer.Units,
				},
			),
		)
	}
	return nil
}

func (l *Ledger) creditSecurity(
	address string,
	units uint64,
	txn *database.Txn,
) error {
	if address == "" || units == 0 {
		return nil
	}
	balance, err := l.config.Database.SecurityBalanceByAddress(address, txn)
	if err != nil {
		return err
	}
	verified, err := l.config.Gate.IsVerified(address)
	if err != nil {
		return err
	}
	balance.Address = address
	balance.Units += units
	balance.TransferRestricted = !verified
	balance.DividendEligible = verified
	balance.UpdatedAt = time.Now()
	return l.config.Database.SecurityBalanceSet(balance, txn)
}
