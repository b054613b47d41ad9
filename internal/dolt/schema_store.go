package dolt

import (
	"context"
	"fmt"

	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/models"
)

// Schema persistence for the registry. Schemas are branch data like
// everything else: registering on a work branch and merging promotes the
// schema along with the blocks written under it.

const schemaColumns = "node_type, schema_version, json_schema, created_at"

func (co *Coordinator) GetNodeSchema(ctx context.Context, nodeType string, version int) (*models.NodeSchema, error) {
	var ns models.NodeSchema
	err := co.Active().Read(ctx, func(e Execer) error {
		return e.GetContext(ctx, &ns,
			"SELECT "+schemaColumns+" FROM node_schemas WHERE node_type = ? AND schema_version = ?",
			nodeType, version)
	})
	if err != nil {
		if errors.HasKind(err, errors.KindNotFound) {
			return nil, errors.New(errors.KindNotFound,
				fmt.Sprintf("schema %s@%d not found", nodeType, version)).
				WithDetail("node_type", nodeType).
				WithDetail("schema_version", version)
		}
		return nil, err
	}
	return &ns, nil
}

func (co *Coordinator) LatestNodeSchema(ctx context.Context, nodeType string) (*models.NodeSchema, error) {
	var ns models.NodeSchema
	err := co.Active().Read(ctx, func(e Execer) error {
		return e.GetContext(ctx, &ns,
			"SELECT "+schemaColumns+` FROM node_schemas WHERE node_type = ?
			 ORDER BY schema_version DESC LIMIT 1`, nodeType)
	})
	if err != nil {
		if errors.HasKind(err, errors.KindNotFound) {
			return nil, errors.New(errors.KindNotFound,
				fmt.Sprintf("no schema registered for type %q", nodeType)).
				WithDetail("node_type", nodeType)
		}
		return nil, err
	}
	return &ns, nil
}

// ListNodeSchemas returns the latest version of each registered type.
func (co *Coordinator) ListNodeSchemas(ctx context.Context) ([]*models.NodeSchema, error) {
	var schemas []*models.NodeSchema
	err := co.Active().Read(ctx, func(e Execer) error {
		return e.SelectContext(ctx, &schemas, `
			SELECT s.node_type, s.schema_version, s.json_schema, s.created_at
			FROM node_schemas s
			JOIN (
			    SELECT node_type, MAX(schema_version) AS latest
			    FROM node_schemas GROUP BY node_type
			) m ON m.node_type = s.node_type AND m.latest = s.schema_version
			ORDER BY s.node_type`)
	})
	if err != nil {
		return nil, err
	}
	return schemas, nil
}

// InsertNodeSchema stores one schema version and commits it.
func (co *Coordinator) InsertNodeSchema(ctx context.Context, s *models.NodeSchema) error {
	return co.Active().Write(ctx, func(e Execer) error {
		if _, err := e.ExecContext(ctx, `
			INSERT INTO node_schemas (node_type, schema_version, json_schema, created_at)
			VALUES (?, ?, ?, ?)`,
			s.NodeType, s.Version, []byte(s.Definition), s.CreatedAt,
		); err != nil {
			return err
		}
		_, err := commitAll(ctx, e,
			fmt.Sprintf("Register schema %s@%d", s.NodeType, s.Version), "system")
		return err
	})
}
