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

import "sync"

// addressLocks provides per-identity mutexes so balance updates for
// different identities never contend. Pair locks are always taken in
// lexicographic address order to prevent deadlock.
type addressLocks struct {
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func newAddressLocks() *addressLocks {
	return &addressLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

func (a *addressLocks) get(address string) *sync.Mutex {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	lock, ok := a.locks[address]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[address] = lock
	}
	return lock
}

// lock acquires the mutex for one address and returns its unlock func
func (a *addressLocks) lock(address string) func() {
	lock := a.get(address)
	lock.Lock()
	return lock.Unlock
}

// lockPair acquires the mutexes for two addresses in lexicographic order
func (a *addressLocks) lockPair(addrA string, addrB string) func() {
	first, second := addrA, addrB
	if second < first {
		first, second = second, first
	}
	firstLock := a.get(first)
	secondLock := a.get(second)
	firstLock.Lock()
	secondLock.Lock()
	return func() {
		secondLock.Unlock()
		firstLock.Unlock()
	}
}
