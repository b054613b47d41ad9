package dolt

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rohankatakam/memorybank/internal/models"
)

// Table DDL for the memory bank. Dolt versions every table, so schema changes
// land as commits like any other write.

const createTableNamespaces = `
CREATE TABLE IF NOT EXISTS namespaces (
    id          VARCHAR(255) PRIMARY KEY,
    name        VARCHAR(255) NOT NULL,
    slug        VARCHAR(255) NOT NULL,
    owner_id    VARCHAR(255) NOT NULL DEFAULT '',
    description TEXT,
    created_at  DATETIME(6) NOT NULL,
    updated_at  DATETIME(6) NOT NULL,
    is_active   TINYINT(1) NOT NULL DEFAULT 1,
    is_default  TINYINT(1) NOT NULL DEFAULT 0,
    UNIQUE KEY uq_namespaces_name (name),
    UNIQUE KEY uq_namespaces_slug (slug)
)`

const createTableMemoryBlocks = `
CREATE TABLE IF NOT EXISTS memory_blocks (
    id             VARCHAR(64) PRIMARY KEY,
    namespace_id   VARCHAR(255) NOT NULL DEFAULT 'public',
    type           VARCHAR(50) NOT NULL,
    text           LONGTEXT,
    state          VARCHAR(20) NOT NULL DEFAULT 'draft',
    visibility     VARCHAR(20) NOT NULL DEFAULT 'internal',
    parent_id      VARCHAR(64),
    has_children   TINYINT(1) NOT NULL DEFAULT 0,
    tags           JSON,
    metadata       JSON,
    source_file    VARCHAR(1024),
    source_uri     VARCHAR(2048),
    confidence     JSON,
    schema_version INT,
    block_version  INT NOT NULL DEFAULT 1,
    created_by     VARCHAR(255) NOT NULL DEFAULT 'agent',
    created_at     DATETIME(6) NOT NULL,
    updated_at     DATETIME(6) NOT NULL,
    embedding      JSON,
    KEY idx_blocks_type (type),
    KEY idx_blocks_namespace (namespace_id),
    KEY idx_blocks_state (state),
    KEY idx_blocks_parent (parent_id),
    KEY idx_blocks_updated (updated_at),
    CONSTRAINT fk_blocks_namespace FOREIGN KEY (namespace_id) REFERENCES namespaces (id),
    CONSTRAINT fk_blocks_parent FOREIGN KEY (parent_id) REFERENCES memory_blocks (id)
)`

const createTableBlockLinks = `
CREATE TABLE IF NOT EXISTS block_links (
    from_id       VARCHAR(64) NOT NULL,
    to_id         VARCHAR(64) NOT NULL,
    relation      VARCHAR(50) NOT NULL,
    priority      INT NOT NULL DEFAULT 0,
    link_metadata JSON,
    created_by    VARCHAR(255) NOT NULL DEFAULT 'agent',
    created_at    DATETIME(6) NOT NULL,
    updated_at    DATETIME(6) NOT NULL,
    PRIMARY KEY (from_id, to_id, relation),
    KEY idx_links_reverse (to_id, relation),
    CONSTRAINT fk_links_from FOREIGN KEY (from_id) REFERENCES memory_blocks (id),
    CONSTRAINT fk_links_to FOREIGN KEY (to_id) REFERENCES memory_blocks (id)
)`

const createTableNodeSchemas = `
CREATE TABLE IF NOT EXISTS node_schemas (
    node_type      VARCHAR(50) NOT NULL,
    schema_version INT NOT NULL,
    json_schema    JSON NOT NULL,
    created_at     DATETIME(6) NOT NULL,
    PRIMARY KEY (node_type, schema_version)
)`

const createTableBlockProperties = `
CREATE TABLE IF NOT EXISTS block_properties (
    block_id      VARCHAR(64) NOT NULL,
    property_name VARCHAR(255) NOT NULL,
    property_type VARCHAR(20) NOT NULL,
    value_text    LONGTEXT,
    value_number  DOUBLE,
    value_json    JSON,
    is_computed   TINYINT(1) NOT NULL DEFAULT 0,
    created_at    DATETIME(6) NOT NULL,
    updated_at    DATETIME(6) NOT NULL,
    PRIMARY KEY (block_id, property_name),
    CONSTRAINT fk_properties_block FOREIGN KEY (block_id) REFERENCES memory_blocks (id) ON DELETE CASCADE
)`

// block_proofs intentionally has no foreign key: the delete proof for a block
// outlives the block row itself.
const createTableBlockProofs = `
CREATE TABLE IF NOT EXISTS block_proofs (
    id          VARCHAR(64) PRIMARY KEY,
    block_id    VARCHAR(64) NOT NULL,
    commit_hash VARCHAR(64) NOT NULL,
    operation   VARCHAR(16) NOT NULL,
    timestamp   DATETIME(6) NOT NULL,
    KEY idx_proofs_block (block_id)
)`

// tableDDL lists creation statements in dependency order.
var tableDDL = []string{
	createTableNamespaces,
	createTableMemoryBlocks,
	createTableBlockLinks,
	createTableNodeSchemas,
	createTableBlockProperties,
	createTableBlockProofs,
}

// Bootstrap creates all tables, seeds the default namespace, and commits the
// result so fresh clones start from a clean, versioned baseline. Safe to run
// repeatedly.
func (co *Coordinator) Bootstrap(ctx context.Context, defaultNamespace string) error {
	return co.Active().Write(ctx, func(conn Execer) error {
		for _, ddl := range tableDDL {
			if _, err := conn.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}

		if defaultNamespace == "" {
			defaultNamespace = models.DefaultNamespace
		}
		now := time.Now().UTC()
		_, err := conn.ExecContext(ctx, `
			INSERT INTO namespaces (id, name, slug, owner_id, description, created_at, updated_at, is_active, is_default)
			VALUES (?, ?, ?, 'system', 'Default namespace', ?, ?, 1, 1)
			ON DUPLICATE KEY UPDATE is_active = 1`,
			defaultNamespace, defaultNamespace, defaultNamespace, now, now)
		if err != nil {
			return fmt.Errorf("seed default namespace: %w", err)
		}

		var dirty bool
		if err := queryDirty(ctx, conn, &dirty); err != nil {
			return err
		}
		if dirty {
			msg := fmt.Sprintf("Bootstrap memory bank schema (%s)", uuid.NewString()[:8])
			if _, err := commitAll(ctx, conn, msg, "system"); err != nil {
				return err
			}
		}
		return nil
	})
}
