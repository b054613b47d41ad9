package mcp

import (
	"context"
	"encoding/json"

	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/links"
	"github.com/rohankatakam/memorybank/internal/memorybank"
	"github.com/rohankatakam/memorybank/internal/models"
)

type createLinkArgs struct {
	FromID        string         `json:"from_id"`
	ToID          string         `json:"to_id"`
	Relation      string         `json:"relation"`
	Bidirectional bool           `json:"bidirectional,omitempty"`
	Priority      int            `json:"priority,omitempty"`
	Metadata      models.JSONMap `json:"metadata,omitempty"`
	Actor         string         `json:"actor,omitempty"`
}

func (a createLinkArgs) toInput() links.CreateInput {
	return links.CreateInput{
		From:          a.FromID,
		To:            a.ToID,
		Relation:      a.Relation,
		Bidirectional: a.Bidirectional,
		Priority:      a.Priority,
		Metadata:      a.Metadata,
		Actor:         a.Actor,
	}
}

var createLinkSchema = objectSchema(map[string]any{
	"from_id":       prop("string", "Source block id"),
	"to_id":         prop("string", "Target block id"),
	"relation":      prop("string", "Relation name or alias, e.g. depends_on, child_of, related_to"),
	"bidirectional": prop("boolean", "Also write the inverse edge in the same commit"),
	"priority":      prop("integer", "Edge weight used for ordering (default 0)"),
	"metadata":      prop("object", "Free-form edge metadata"),
	"actor":         prop("string", "Author recorded on the commit"),
}, "from_id", "to_id", "relation")

func createBlockLinkTool(svc Service) *Tool {
	return &Tool{
		Name:        "CreateBlockLink",
		Description: "Link two blocks with a typed relation. Hierarchy relations (child_of, parent_of) are cycle-checked before the write; aliases are stored under their canonical name.",
		InputSchema: createLinkSchema,
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args createLinkArgs
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			mut, err := svc.CreateLink(ctx, args.toInput())
			return svc.Envelope(mut, err)
		},
	}
}

func deleteBlockLinkTool(svc Service) *Tool {
	return &Tool{
		Name:        "DeleteBlockLink",
		Description: "Remove one edge identified by its endpoints and relation. The relation may be an alias of the stored canonical name.",
		InputSchema: objectSchema(map[string]any{
			"from_id":  prop("string", "Source block id"),
			"to_id":    prop("string", "Target block id"),
			"relation": prop("string", "Relation name or alias"),
			"actor":    prop("string", "Author recorded on the commit"),
		}, "from_id", "to_id", "relation"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				FromID   string `json:"from_id"`
				ToID     string `json:"to_id"`
				Relation string `json:"relation"`
				Actor    string `json:"actor,omitempty"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			mut, err := svc.DeleteLink(ctx, args.FromID, args.ToID, args.Relation, args.Actor)
			return svc.Envelope(mut, err)
		},
	}
}

func bulkCreateLinksTool(svc Service) *Tool {
	return &Tool{
		Name:        "BulkCreateLinks",
		Description: "Create many links in one call. Items run in order and the batch stops at the first failure, since later cycle checks depend on earlier edges landing. Completed items are reported either way.",
		InputSchema: objectSchema(map[string]any{
			"links": map[string]any{
				"type":        "array",
				"items":       createLinkSchema,
				"description": "Links to create, in order",
			},
			"actor": prop("string", "Default author for items that set none"),
		}, "links"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				Links []createLinkArgs `json:"links"`
				Actor string           `json:"actor,omitempty"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			if len(args.Links) == 0 {
				return svc.Envelope(nil, errors.New(errors.KindValidation, "links must not be empty"))
			}

			results := make([]BulkItem, 0, len(args.Links))
			failed := 0
			for i, ln := range args.Links {
				in := ln.toInput()
				if in.Actor == "" {
					in.Actor = args.Actor
				}
				mut, err := svc.CreateLink(ctx, in)
				item := BulkItem{Index: i, OK: err == nil}
				if err != nil {
					failed++
					item.Error = memorybank.Describe(err)
					results = append(results, item)
					break
				}
				item.Data = mut
				results = append(results, item)
			}

			res := svc.Envelope(map[string]any{
				"results":   results,
				"succeeded": len(results) - failed,
				"failed":    failed,
				"attempted": len(results),
			}, nil)
			res.OK = failed == 0
			return res
		},
	}
}

func getLinkedBlocksTool(svc Service) *Tool {
	return &Tool{
		Name:        "GetLinkedBlocks",
		Description: "Walk the link graph around a block and return neighbor blocks with the edges that reached them. Depth above 1 does a breadth-first expansion.",
		InputSchema: objectSchema(map[string]any{
			"block_id":  prop("string", "Block at the center of the walk"),
			"relation":  prop("string", "Restrict to one relation (canonical or alias)"),
			"direction": prop("string", "out, in, or both (default both)"),
			"depth":     prop("integer", "Traversal depth, capped at 5 (default 1)"),
			"limit":     prop("integer", "Maximum neighbors returned"),
		}, "block_id"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				BlockID string `json:"block_id"`
				models.LinkFilter
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			linked, err := svc.LinkedBlocks(ctx, args.BlockID, &args.LinkFilter)
			return svc.Envelope(map[string]any{"blocks": linked, "count": len(linked)}, err)
		},
	}
}

func listLinksTool(svc Service) *Tool {
	return &Tool{
		Name:        "ListLinks",
		Description: "Page through edges on the active branch without anchoring on a block. Filters are exact matches; pass the returned cursor to continue where a page ended.",
		InputSchema: objectSchema(map[string]any{
			"from_id":  prop("string", "Only edges leaving this block"),
			"to_id":    prop("string", "Only edges entering this block"),
			"relation": prop("string", "Only edges with this canonical relation"),
			"limit":    prop("integer", "Page size (default 50, capped at 500)"),
			"cursor":   prop("string", "Opaque token from a previous page"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var q models.LinkQuery
			if err := decodeArgs(raw, &q); err != nil {
				return svc.Envelope(nil, err)
			}
			page, err := svc.ListLinks(ctx, &q)
			return svc.Envelope(page, err)
		},
	}
}

func semanticSearchTool(svc Service) *Tool {
	return &Tool{
		Name:        "SemanticSearch",
		Description: "Rank blocks on the active branch by similarity to the query text. Filters narrow the candidate set; expand_neighbors pulls in graph-adjacent block ids for context assembly.",
		InputSchema: objectSchema(map[string]any{
			"text":             prop("string", "Query text"),
			"k":                prop("integer", "Number of hits (default 10, capped at 100)"),
			"namespace":        prop("string", "Restrict to one namespace"),
			"type":             prop("string", "Restrict to one block type"),
			"tags":             arrayProp("string", "Restrict to blocks carrying any of these tags"),
			"expand_neighbors": prop("boolean", "Also return ids of blocks linked to the hits"),
		}, "text"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var req memorybank.SearchRequest
			if err := decodeArgs(raw, &req); err != nil {
				return svc.Envelope(nil, err)
			}
			resp, err := svc.SemanticSearch(ctx, req)
			return svc.Envelope(resp, err)
		},
	}
}
