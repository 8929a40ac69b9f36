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

// Package validator maintains the stake and reputation registry used by
// consensus. Validator state lives in its own namespace and is never
// derived from token balances.
package validator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/tabnet-io/tabnet/database"
	"github.com/tabnet-io/tabnet/database/models"
	"github.com/tabnet-io/tabnet/event"
)

const (
	RegisteredEventType event.EventType = "validator.registered"
	ReputationEventType event.EventType = "validator.reputation_change"
)

// RegisteredEvent is published when a validator joins the registry
type RegisteredEvent struct {
	ValidatorId string
	Region      string
	Stake       uint64
}

// ReputationEvent is published when a validation outcome adjusts reputation
type ReputationEvent struct {
	ValidatorId string
	Correct     bool
	Reputation  uint64
}

var (
	ErrNoCandidates = errors.New("no eligible validator candidates")
)

// Scoring weights. All three terms are normalized to [0,1] before
// weighting, so a score is always within [0,1].
const (
	weightReputation = 0.4
	weightStake      = 0.3
	weightGeographic = 0.3
)

// RegistryConfig holds configuration for the validator registry
type RegistryConfig struct {
	Logger   *slog.Logger
	EventBus *event.EventBus
	Database *database.Database
	// MinScore excludes validators from candidacy when their score falls
	// below it
	MinScore float64
	// MaxValidators caps the selection set per height
	MaxValidators int
	// ProposerCooldown is the number of heights a proposer sits out after
	// being selected
	ProposerCooldown uint64
	// ReputationBump and ReputationSlash adjust reputation on validation
	// outcomes
	ReputationBump  uint64
	ReputationSlash uint64
}

// Registry manages validator stake, reputation, and selection
type Registry struct {
	config RegistryConfig
	logger *slog.Logger
	mutex  sync.Mutex
}

// Candidate is a validator that passed candidacy filtering, carrying its
// selection score
type Candidate struct {
	ValidatorId        string
	Region             string
	Stake              uint64
	Reputation         uint64
	LastSelectedHeight uint64
	Score              float64
}

func NewRegistry(config RegistryConfig) *Registry {
	r := &Registry{
		config: config,
		logger: config.Logger,
	}
	if r.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if r.config.MaxValidators <= 0 {
		r.config.MaxValidators = 1
	}
	if r.config.ReputationBump == 0 {
		r.config.ReputationBump = 1
	}
	if r.config.ReputationSlash == 0 {
		r.config.ReputationSlash = 2
	}
	return r
}

// Register adds a validator to the registry or updates its stake and
// region if it already exists
func (r *Registry) Register(
	validatorId string,
	region string,
	stake uint64,
) error {
	if validatorId == "" {
		return errors.New("empty validator id")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	record := &models.Validator{
		ValidatorId: validatorId,
		Region:      region,
		Stake:       stake,
		Active:      true,
	}
	if existing, err := r.config.Database.ValidatorByValidatorId(validatorId, nil); err == nil {
		record.ReputationScore = existing.ReputationScore
		record.CorrectValidations = existing.CorrectValidations
		record.FailedValidations = existing.FailedValidations
		record.LastSelectedHeight = existing.LastSelectedHeight
	} else if !errors.Is(err, models.ErrValidatorNotFound) {
		return err
	}
	if err := r.config.Database.ValidatorUpsert(record, nil); err != nil {
		return err
	}
	r.logger.Info(
		"validator registered",
		"component", "validator",
		"validator_id", validatorId,
		"region", region,
		"stake", stake,
	)
	if r.config.EventBus != nil {
		r.config.EventBus.Publish(
			RegisteredEventType,
			event.NewEvent(
				RegisteredEventType,
				RegisteredEvent{
					ValidatorId: validatorId,
					Region:      region,
					Stake:       stake,
				},
			),
		)
	}
	return nil
}

// Deactivate removes a validator from candidacy without discarding its
// history
func (r *Registry) Deactivate(validatorId string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	record, err := r.config.Database.ValidatorByValidatorId(validatorId, nil)
	if err != nil {
		return err
	}
	record.Active = false
	return r.config.Database.ValidatorUpsert(record, nil)
}

// RecordValidation adjusts a validator's reputation for a validation
// outcome. Correct validations bump reputation; incorrect ones slash it,
// floored at zero.
func (r *Registry) RecordValidation(validatorId string, correct bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	record, err := r.config.Database.ValidatorByValidatorId(validatorId, nil)
	if err != nil {
		return err
	}
	if correct {
		record.CorrectValidations++
		record.ReputationScore += r.config.ReputationBump
	} else {
		record.FailedValidations++
		if record.ReputationScore > r.config.ReputationSlash {
			record.ReputationScore -= r.config.ReputationSlash
		} else {
			record.ReputationScore = 0
		}
	}
	if err := r.config.Database.ValidatorUpsert(record, nil); err != nil {
		return err
	}
	if r.config.EventBus != nil {
		r.config.EventBus.Publish(
			ReputationEventType,
			event.NewEvent(
				ReputationEventType,
				ReputationEvent{
					ValidatorId: validatorId,
					Correct:     correct,
					Reputation:  record.ReputationScore,
				},
			),
		)
	}
	return nil
}

// MarkSelected records that a validator proposed at the given height,
// starting its cooldown
func (r *Registry) MarkSelected(validatorId string, height uint64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	record, err := r.config.Database.ValidatorByValidatorId(validatorId, nil)
	if err != nil {
		return err
	}
	record.LastSelectedHeight = height
	return r.config.Database.ValidatorUpsert(record, nil)
}

// SelectValidators picks the validator set for one height. Candidacy is
// filtered on score, then a stateful greedy pass applies the geographic
// diversity bonus: each time a region is picked, subsequent candidates
// from that region score lower. Selection is fully deterministic; ties
// break toward the lowest validator id.
func (r *Registry) SelectValidators() ([]Candidate, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	validators, err := r.config.Database.Validators(true, nil)
	if err != nil {
		return nil, err
	}
	var totalStake, maxReputation uint64
	for _, v := range validators {
		totalStake += v.Stake
		if v.ReputationScore > maxReputation {
			maxReputation = v.ReputationScore
		}
	}
	// Candidacy filter uses the full geographic bonus so the diversity
	// penalty never disqualifies a validator outright
	var candidates []Candidate
	for _, v := range validators {
		score := r.score(v.ReputationScore, v.Stake, totalStake, maxReputation, 1.0)
		if score < r.config.MinScore {
			continue
		}
		candidates = append(candidates, Candidate{
			ValidatorId:        v.ValidatorId,
			Region:             v.Region,
			Stake:              v.Stake,
			Reputation:         v.ReputationScore,
			LastSelectedHeight: v.LastSelectedHeight,
		})
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ValidatorId < candidates[j].ValidatorId
	})
	selected := make([]Candidate, 0, r.config.MaxValidators)
	regionCounts := make(map[string]int)
	picked := make(map[string]bool)
	for len(selected) < r.config.MaxValidators && len(selected) < len(candidates) {
		bestIdx := -1
		bestScore := 0.0
		for i, c := range candidates {
			if picked[c.ValidatorId] {
				continue
			}
			geoBonus := 1.0 / float64(1+regionCounts[c.Region])
			score := r.score(c.Reputation, c.Stake, totalStake, maxReputation, geoBonus)
			// Candidates are held in id order, so on an exact tie the
			// earlier (lower id) entry wins
			if bestIdx == -1 || score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}
		if bestIdx == -1 {
			break
		}
		chosen := candidates[bestIdx]
		chosen.Score = bestScore
		selected = append(selected, chosen)
		picked[chosen.ValidatorId] = true
		regionCounts[chosen.Region]++
	}
	return selected, nil
}

// SelectProposer returns the highest-scored candidate whose last proposal
// is at least the cooldown window behind the target height. If every
// candidate is cooling down, the top candidate is returned anyway to keep
// the chain live.
func (r *Registry) SelectProposer(
	candidates []Candidate,
	height uint64,
) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoCandidates
	}
	for _, c := range candidates {
		if c.LastSelectedHeight == 0 ||
			height > c.LastSelectedHeight+r.config.ProposerCooldown {
			return c, nil
		}
	}
	r.logger.Warn(
		"all candidates cooling down, reusing top candidate",
		"component", "validator",
		"height", height,
	)
	return candidates[0], nil
}

// AttestationThresholdMet reports whether the attesting stake reaches the
// two-thirds supermajority of the selected set's aggregate stake
func AttestationThresholdMet(attested uint64, total uint64) bool {
	if total == 0 {
		return false
	}
	// attested/total >= 2/3 without floating point
	return attested*3 >= total*2
}

// Score computes the selection score for a single validator against the
// current registry totals, using the full geographic bonus
func (r *Registry) Score(validatorId string) (float64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	validators, err := r.config.Database.Validators(true, nil)
	if err != nil {
		return 0, err
	}
	var totalStake, maxReputation uint64
	var target *models.Validator
	for _, v := range validators {
		totalStake += v.Stake
		if v.ReputationScore > maxReputation {
			maxReputation = v.ReputationScore
		}
		if v.ValidatorId == validatorId {
			target = v
		}
	}
	if target == nil {
		return 0, fmt.Errorf(
			"%w: %s",
			models.ErrValidatorNotFound,
			validatorId,
		)
	}
	return r.score(
		target.ReputationScore,
		target.Stake,
		totalStake,
		maxReputation,
		1.0,
	), nil
}

func (r *Registry) score(
	reputation uint64,
	stake uint64,
	totalStake uint64,
	maxReputation uint64,
	geoBonus float64,
) float64 {
	var reputationNorm, stakeRatio float64
	if maxReputation > 0 {
		reputationNorm = float64(reputation) / float64(maxReputation)
	}
	if totalStake > 0 {
		stakeRatio = float64(stake) / float64(totalStake)
	}
	return weightReputation*reputationNorm +
		weightStake*stakeRatio +
		weightGeographic*geoBonus
}
