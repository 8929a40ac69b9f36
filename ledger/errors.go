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

import "errors"

// Validation errors reject malformed input before any state is touched
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrUnknownNode   = errors.New("unknown node")
	ErrNodeInactive  = errors.New("node is inactive")
)

// Conflict errors cover duplicate or already-consumed operations; callers
// treat them as idempotent outcomes, never blind retries
var (
	ErrDoubleMint     = errors.New("sale already minted")
	ErrAlreadyClaimed = errors.New("claim code already redeemed")
)

// Claim errors
var (
	ErrClaimNotFound = errors.New("unknown claim address")
	ErrInvalidCode   = errors.New("activation code does not match")
	ErrClaimPending  = errors.New("sale not yet minted")
	ErrClaimExpired  = errors.New("sale has expired")
)

// Compliance errors surface to the caller and resolve only through an
// external KYC decision
var (
	ErrTransferRestricted  = errors.New("balance is transfer restricted")
	ErrInsufficientBalance = errors.New("insufficient unrestricted balance")
)
