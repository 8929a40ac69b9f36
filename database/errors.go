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

package database

import "errors"

var (
	// ErrKeyNotFound is returned when a blob record does not exist
	ErrKeyNotFound = errors.New("key not found")
	// ErrConflict is returned when a compare-and-swap style update lost a
	// race against a concurrent transaction. Callers may retry.
	ErrConflict = errors.New("transaction conflict")
	// ErrUnavailable is returned when the underlying stores cannot be
	// reached. Operations fail closed on this error.
	ErrUnavailable = errors.New("database unavailable")
	// ErrTxnFinished is returned when a transaction handle is reused after
	// commit or rollback
	ErrTxnFinished = errors.New("transaction already finished")
)
