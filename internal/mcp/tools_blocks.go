package mcp

import (
	"context"
	"encoding/json"

	"github.com/rohankatakam/memorybank/internal/dolt"
	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/memorybank"
	"github.com/rohankatakam/memorybank/internal/models"
)

type createBlockArgs struct {
	ID            string         `json:"id,omitempty"`
	Namespace     string         `json:"namespace,omitempty"`
	Type          string         `json:"type"`
	Text          string         `json:"text"`
	State         string         `json:"state,omitempty"`
	Visibility    string         `json:"visibility,omitempty"`
	ParentID      string         `json:"parent_id,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Metadata      models.JSONMap `json:"metadata,omitempty"`
	SourceFile    string         `json:"source_file,omitempty"`
	SourceURI     string         `json:"source_uri,omitempty"`
	Confidence    models.JSONMap `json:"confidence,omitempty"`
	SchemaVersion *int           `json:"schema_version,omitempty"`
	Actor         string         `json:"actor,omitempty"`
}

func (a createBlockArgs) toInput() dolt.CreateBlockInput {
	return dolt.CreateBlockInput{
		ID:            a.ID,
		Namespace:     a.Namespace,
		Type:          a.Type,
		Text:          a.Text,
		State:         a.State,
		Visibility:    a.Visibility,
		ParentID:      a.ParentID,
		Tags:          a.Tags,
		Metadata:      a.Metadata,
		SourceFile:    a.SourceFile,
		SourceURI:     a.SourceURI,
		Confidence:    a.Confidence,
		SchemaVersion: a.SchemaVersion,
		Actor:         a.Actor,
	}
}

var createBlockSchema = objectSchema(map[string]any{
	"id":             prop("string", "Block id; generated when omitted"),
	"namespace":      prop("string", "Namespace id or slug; the default namespace when omitted"),
	"type":           prop("string", "Block type with a registered schema, e.g. task, doc, knowledge"),
	"text":           prop("string", "Block body"),
	"state":          prop("string", "draft, published, or archived (default draft)"),
	"visibility":     prop("string", "internal, public, or restricted (default internal)"),
	"parent_id":      prop("string", "Attach under this existing block"),
	"tags":           arrayProp("string", "Free-form tags; normalized to lowercase"),
	"metadata":       prop("object", "Typed metadata validated against the type's schema"),
	"source_file":    prop("string", "Originating file path, if any"),
	"source_uri":     prop("string", "Originating URI, if any"),
	"confidence":     prop("object", "Confidence scores for the content"),
	"schema_version": prop("integer", "Pin a schema version; latest when omitted"),
	"actor":          prop("string", "Author recorded on the commit"),
}, "type", "text")

func createMemoryBlockTool(svc Service) *Tool {
	return &Tool{
		Name:        "CreateMemoryBlock",
		Description: "Create a typed memory block on the active branch. Metadata is validated against the registered schema for the type and the write lands as a commit with a proof row.",
		InputSchema: createBlockSchema,
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args createBlockArgs
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			mut, err := svc.CreateBlock(ctx, args.toInput())
			return svc.Envelope(mut, err)
		},
	}
}

type updateBlockArgs struct {
	BlockID string `json:"block_id"`
	Actor   string `json:"actor,omitempty"`
	models.BlockPatch
}

func updateMemoryBlockTool(svc Service) *Tool {
	return &Tool{
		Name:        "UpdateMemoryBlock",
		Description: "Patch a block's text, state, visibility, tags, or metadata. Set if_version to make the update conditional on the current block_version; merge_metadata merges top-level keys instead of replacing the document.",
		InputSchema: objectSchema(map[string]any{
			"block_id":       prop("string", "Block to update"),
			"text":           prop("string", "Replacement body"),
			"state":          prop("string", "New state"),
			"visibility":     prop("string", "New visibility"),
			"tags":           arrayProp("string", "Replacement tag list"),
			"metadata":       prop("object", "Replacement metadata document"),
			"merge_metadata": prop("object", "Keys merged into the existing document; a null value removes the key"),
			"if_version":     prop("integer", "Fail with OptimisticConflict unless block_version matches"),
			"actor":          prop("string", "Author recorded on the commit"),
		}, "block_id"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args updateBlockArgs
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			mut, err := svc.UpdateBlock(ctx, args.BlockID, &args.BlockPatch, args.Actor)
			return svc.Envelope(mut, err)
		},
	}
}

func deleteMemoryBlockTool(svc Service) *Tool {
	return &Tool{
		Name:        "DeleteMemoryBlock",
		Description: "Delete a block, its properties, and every link touching it. The delete proof row survives the block.",
		InputSchema: objectSchema(map[string]any{
			"block_id": prop("string", "Block to delete"),
			"actor":    prop("string", "Author recorded on the commit"),
		}, "block_id"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				BlockID string `json:"block_id"`
				Actor   string `json:"actor,omitempty"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			mut, err := svc.DeleteBlock(ctx, args.BlockID, args.Actor)
			return svc.Envelope(mut, err)
		},
	}
}

func getMemoryBlockTool(svc Service) *Tool {
	return &Tool{
		Name:        "GetMemoryBlock",
		Description: "Fetch one block by id from the active branch, optionally with its decomposed properties and its commit proof history.",
		InputSchema: objectSchema(map[string]any{
			"block_id":           prop("string", "Block to fetch"),
			"include_properties": prop("boolean", "Also return decomposed metadata properties"),
			"include_proofs":     prop("boolean", "Also return the commit proof history"),
		}, "block_id"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				BlockID           string `json:"block_id"`
				IncludeProperties bool   `json:"include_properties,omitempty"`
				IncludeProofs     bool   `json:"include_proofs,omitempty"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			detail, err := svc.GetBlock(ctx, args.BlockID, memorybank.GetBlockOptions{
				IncludeProperties: args.IncludeProperties,
				IncludeProofs:     args.IncludeProofs,
			})
			return svc.Envelope(detail, err)
		},
	}
}

func queryMemoryBlocksTool(svc Service) *Tool {
	return &Tool{
		Name:        "QueryMemoryBlocks",
		Description: "Page through blocks on the active branch filtered by namespace, type, state, visibility, parent, tags, text, metadata fields, and creation or update time. Pass the returned next_cursor to continue; the cursor is only valid for an identical filter.",
		InputSchema: objectSchema(map[string]any{
			"namespace":      prop("string", "Namespace id or slug"),
			"type":           prop("string", "Block type"),
			"state":          prop("string", "draft, published, or archived"),
			"visibility":     prop("string", "internal, public, or restricted"),
			"parent_id":      prop("string", "Direct children of this block"),
			"tags":           arrayProp("string", "Tags to match"),
			"tags_match_all": prop("boolean", "Require every tag instead of any"),
			"text_contains":  prop("string", "Substring match on the body"),
			"metadata":       prop("object", "Exact-match metadata fields"),
			"created_after":  prop("string", "RFC 3339 lower bound on created_at"),
			"updated_after":  prop("string", "RFC 3339 lower bound on updated_at"),
			"updated_before": prop("string", "RFC 3339 upper bound on updated_at"),
			"order_by":       prop("string", "created_at, updated_at, type, or state"),
			"descending":     prop("boolean", "Reverse the sort"),
			"limit":          prop("integer", "Page size, capped at 500"),
			"cursor":         prop("string", "Opaque cursor from the previous page"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var filter models.BlockFilter
			if err := decodeArgs(raw, &filter); err != nil {
				return svc.Envelope(nil, err)
			}
			page, err := svc.QueryBlocks(ctx, &filter)
			return svc.Envelope(page, err)
		},
	}
}

// BulkItem is one entry of a bulk tool's per-item outcome list.
type BulkItem struct {
	Index int                     `json:"index"`
	OK    bool                    `json:"ok"`
	Data  any                     `json:"data,omitempty"`
	Error *memorybank.ResultError `json:"error,omitempty"`
}

func bulkCreateBlocksTool(svc Service) *Tool {
	return &Tool{
		Name:        "BulkCreateBlocks",
		Description: "Create many blocks in one call. Items are independent: a failed item is reported in its slot and the rest still run. The envelope's ok is true only when every item succeeded.",
		InputSchema: objectSchema(map[string]any{
			"blocks": map[string]any{
				"type":        "array",
				"items":       createBlockSchema,
				"description": "Blocks to create, in order",
			},
			"actor": prop("string", "Default author for items that set none"),
		}, "blocks"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				Blocks []createBlockArgs `json:"blocks"`
				Actor  string            `json:"actor,omitempty"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			if len(args.Blocks) == 0 {
				return svc.Envelope(nil, errors.New(errors.KindValidation, "blocks must not be empty"))
			}

			results := make([]BulkItem, 0, len(args.Blocks))
			failed := 0
			for i, blk := range args.Blocks {
				in := blk.toInput()
				if in.Actor == "" {
					in.Actor = args.Actor
				}
				mut, err := svc.CreateBlock(ctx, in)
				item := BulkItem{Index: i, OK: err == nil}
				if err != nil {
					failed++
					item.Error = memorybank.Describe(err)
				} else {
					item.Data = mut
				}
				results = append(results, item)
			}

			res := svc.Envelope(map[string]any{
				"results":   results,
				"succeeded": len(results) - failed,
				"failed":    failed,
			}, nil)
			res.OK = failed == 0
			return res
		},
	}
}
