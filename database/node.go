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

import (
	"errors"

	"gorm.io/gorm"

	"github.com/tabnet-io/tabnet/database/models"
)

// resolveMetadataDB returns the gorm handle from the transaction, or the
// store-level handle when no transaction is provided
func (d *Database) resolveMetadataDB(txn *Txn) *gorm.DB {
	if txn != nil && txn.Metadata() != nil {
		return txn.Metadata()
	}
	return d.metadata.DB()
}

// NodeCreate registers a new franchise node
func (d *Database) NodeCreate(node *models.Node, txn *Txn) error {
	db := d.resolveMetadataDB(txn)
	if result := db.Create(node); result.Error != nil {
		return result.Error
	}
	return nil
}

// NodeByNodeId retrieves a node by its node ID
func (d *Database) NodeByNodeId(
	nodeId string,
	txn *Txn,
) (*models.Node, error) {
	var node models.Node
	db := d.resolveMetadataDB(txn)
	if result := db.Where("node_id = ?", nodeId).First(&node); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrNodeNotFound
		}
		return nil, result.Error
	}
	return &node, nil
}

// NodeUpdate saves changes to an existing node record
func (d *Database) NodeUpdate(node *models.Node, txn *Txn) error {
	db := d.resolveMetadataDB(txn)
	if result := db.Save(node); result.Error != nil {
		return result.Error
	}
	return nil
}

// Nodes retrieves all nodes, optionally restricted to active ones
func (d *Database) Nodes(activeOnly bool, txn *Txn) ([]*models.Node, error) {
	var nodes []*models.Node
	db := d.resolveMetadataDB(txn)
	if activeOnly {
		db = db.Where("active = ?", true)
	}
	if result := db.Find(&nodes); result.Error != nil {
		return nil, result.Error
	}
	return nodes, nil
}
