package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/rohankatakam/memorybank/internal/dolt"
	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/links"
	"github.com/rohankatakam/memorybank/internal/memorybank"
	"github.com/rohankatakam/memorybank/internal/models"
)

// Service is the bank surface the catalog binds to. *memorybank.Bank
// satisfies it; tests use a fake.
type Service interface {
	Envelope(data any, err error) memorybank.Result
	DefaultDeadline() time.Duration

	CreateBlock(ctx context.Context, in dolt.CreateBlockInput) (*memorybank.BlockMutation, error)
	UpdateBlock(ctx context.Context, id string, patch *models.BlockPatch, actor string) (*memorybank.BlockMutation, error)
	DeleteBlock(ctx context.Context, id, actor string) (*memorybank.BlockMutation, error)
	GetBlock(ctx context.Context, id string, opts memorybank.GetBlockOptions) (*memorybank.BlockDetail, error)
	QueryBlocks(ctx context.Context, f *models.BlockFilter) (*models.QueryPage, error)

	CreateLink(ctx context.Context, in links.CreateInput) (*memorybank.LinkMutation, error)
	DeleteLink(ctx context.Context, from, to, rel, actor string) (*memorybank.LinkMutation, error)
	LinkedBlocks(ctx context.Context, blockID string, f *models.LinkFilter) ([]models.LinkedBlock, error)
	ListLinks(ctx context.Context, q *models.LinkQuery) (*models.LinkPage, error)
	SemanticSearch(ctx context.Context, req memorybank.SearchRequest) (*memorybank.SearchResponse, error)

	Branches(ctx context.Context) ([]models.BranchInfo, error)
	ActiveBranchInfo(ctx context.Context) (*memorybank.BranchHead, error)
	Checkout(ctx context.Context, branch string) (*memorybank.BranchChange, error)
	CreateBranch(ctx context.Context, name, from string, checkout bool) (*memorybank.CreateBranchResult, error)
	Commit(ctx context.Context, message, actor string) (*memorybank.CommitResult, error)
	Merge(ctx context.Context, source, strategy string) (*memorybank.MergeOutcome, error)

	Namespaces(ctx context.Context) ([]models.Namespace, error)
	CreateNamespace(ctx context.Context, in dolt.CreateNamespaceInput) (*models.Namespace, error)

	RegisterSchema(ctx context.Context, nodeType string, def json.RawMessage) (*models.NodeSchema, error)
	GetSchema(ctx context.Context, nodeType string, version *int) (*models.NodeSchema, error)
	Schemas(ctx context.Context) ([]*models.NodeSchema, error)

	Health(ctx context.Context) memorybank.HealthReport
}

// BuildCatalog registers every tool in its published order.
func BuildCatalog(svc Service) *Registry {
	r := NewRegistry()

	r.Register(createMemoryBlockTool(svc))
	r.Register(updateMemoryBlockTool(svc))
	r.Register(deleteMemoryBlockTool(svc))
	r.Register(getMemoryBlockTool(svc))
	r.Register(queryMemoryBlocksTool(svc))
	r.Register(bulkCreateBlocksTool(svc))

	r.Register(createBlockLinkTool(svc))
	r.Register(deleteBlockLinkTool(svc))
	r.Register(bulkCreateLinksTool(svc))
	r.Register(getLinkedBlocksTool(svc))
	r.Register(listLinksTool(svc))
	r.Register(semanticSearchTool(svc))

	r.Register(listBranchesTool(svc))
	r.Register(getActiveBranchTool(svc))
	r.Register(checkoutBranchTool(svc))
	r.Register(createBranchTool(svc))
	r.Register(commitTool(svc))
	r.Register(mergeTool(svc))

	r.Register(listNamespacesTool(svc))
	r.Register(createNamespaceTool(svc))

	r.Register(registerSchemaTool(svc))
	r.Register(getSchemaTool(svc))
	r.Register(listSchemasTool(svc))

	r.Register(healthCheckTool(svc))

	return r
}

// decodeArgs strictly decodes tool arguments. Unknown fields are rejected so
// an agent's typo fails loud instead of being silently dropped.
func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return errors.Wrap(err, errors.KindValidation, "invalid tool arguments").
			WithDetail("decode_error", err.Error())
	}
	if dec.More() {
		return errors.New(errors.KindValidation, "invalid tool arguments: trailing data")
	}
	return nil
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func arrayProp(itemType, desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": itemType},
		"description": desc,
	}
}
