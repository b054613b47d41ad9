package mcp

import (
	"context"
	"encoding/json"

	"github.com/rohankatakam/memorybank/internal/dolt"
	"github.com/rohankatakam/memorybank/internal/memorybank"
)

func listBranchesTool(svc Service) *Tool {
	return &Tool{
		Name:        "ListBranches",
		Description: "List every branch with its head commit hash and whether its working set has uncommitted changes. The active branch is marked.",
		InputSchema: objectSchema(map[string]any{}),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			if err := decodeArgs(raw, &struct{}{}); err != nil {
				return svc.Envelope(nil, err)
			}
			branches, err := svc.Branches(ctx)
			return svc.Envelope(map[string]any{"branches": branches, "count": len(branches)}, err)
		},
	}
}

func getActiveBranchTool(svc Service) *Tool {
	return &Tool{
		Name:        "GetActiveBranch",
		Description: "Return the branch every other tool currently operates on, with its head commit hash.",
		InputSchema: objectSchema(map[string]any{}),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			if err := decodeArgs(raw, &struct{}{}); err != nil {
				return svc.Envelope(nil, err)
			}
			head, err := svc.ActiveBranchInfo(ctx)
			return svc.Envelope(head, err)
		},
	}
}

func checkoutBranchTool(svc Service) *Tool {
	return &Tool{
		Name:        "CheckoutBranch",
		Description: "Switch the active branch. All subsequent reads and writes target the new branch; the semantic index follows it lazily.",
		InputSchema: objectSchema(map[string]any{
			"branch": prop("string", "Branch to make active"),
		}, "branch"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				Branch string `json:"branch"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			change, err := svc.Checkout(ctx, args.Branch)
			return svc.Envelope(change, err)
		},
	}
}

func createBranchTool(svc Service) *Tool {
	return &Tool{
		Name:        "CreateBranch",
		Description: "Fork a new branch from an existing one (the active branch when from is omitted), optionally checking it out in the same call.",
		InputSchema: objectSchema(map[string]any{
			"name":     prop("string", "New branch name"),
			"from":     prop("string", "Source branch; the active branch when omitted"),
			"checkout": prop("boolean", "Switch to the new branch after creating it"),
		}, "name"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				Name     string `json:"name"`
				From     string `json:"from,omitempty"`
				Checkout bool   `json:"checkout,omitempty"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			res, err := svc.CreateBranch(ctx, args.Name, args.From, args.Checkout)
			return svc.Envelope(res, err)
		},
	}
}

func commitTool(svc Service) *Tool {
	return &Tool{
		Name:        "Commit",
		Description: "Commit any uncommitted working-set changes on the active branch. Block and link tools commit their own writes, so this mostly captures out-of-band edits.",
		InputSchema: objectSchema(map[string]any{
			"message": prop("string", "Commit message; a default stamp is used when omitted"),
			"actor":   prop("string", "Author recorded on the commit"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				Message string `json:"message,omitempty"`
				Actor   string `json:"actor,omitempty"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			res, err := svc.Commit(ctx, args.Message, args.Actor)
			return svc.Envelope(res, err)
		},
	}
}

func mergeTool(svc Service) *Tool {
	return &Tool{
		Name:        "Merge",
		Description: "Merge a source branch into the active branch. Conflicts abort the merge and are reported with the conflict count; nothing is half-applied.",
		InputSchema: objectSchema(map[string]any{
			"source":   prop("string", "Branch to merge into the active branch"),
			"strategy": prop("string", "three_way (default) or fast_forward_or_fail"),
		}, "source"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				Source   string `json:"source"`
				Strategy string `json:"strategy,omitempty"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			out, err := svc.Merge(ctx, args.Source, args.Strategy)
			return svc.Envelope(out, err)
		},
	}
}

func listNamespacesTool(svc Service) *Tool {
	return &Tool{
		Name:        "ListNamespaces",
		Description: "List the namespaces visible on the active branch.",
		InputSchema: objectSchema(map[string]any{}),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			if err := decodeArgs(raw, &struct{}{}); err != nil {
				return svc.Envelope(nil, err)
			}
			namespaces, err := svc.Namespaces(ctx)
			return svc.Envelope(map[string]any{"namespaces": namespaces, "count": len(namespaces)}, err)
		},
	}
}

func createNamespaceTool(svc Service) *Tool {
	return &Tool{
		Name:        "CreateNamespace",
		Description: "Create an isolation scope for blocks. The slug is derived from the name when omitted.",
		InputSchema: objectSchema(map[string]any{
			"name":        prop("string", "Display name"),
			"slug":        prop("string", "URL-safe identifier; derived from the name when omitted"),
			"owner_id":    prop("string", "Owning agent or user"),
			"description": prop("string", "What lives in this namespace"),
			"actor":       prop("string", "Author recorded on the commit"),
		}, "name"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				Name        string `json:"name"`
				Slug        string `json:"slug,omitempty"`
				OwnerID     string `json:"owner_id,omitempty"`
				Description string `json:"description,omitempty"`
				Actor       string `json:"actor,omitempty"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			ns, err := svc.CreateNamespace(ctx, dolt.CreateNamespaceInput{
				Name:        args.Name,
				Slug:        args.Slug,
				OwnerID:     args.OwnerID,
				Description: args.Description,
				Actor:       args.Actor,
			})
			return svc.Envelope(ns, err)
		},
	}
}

func registerSchemaTool(svc Service) *Tool {
	return &Tool{
		Name:        "RegisterSchema",
		Description: "Register a JSON Schema for a block type. Versions are append-only: re-registering a type stores the next version and new blocks validate against it.",
		InputSchema: objectSchema(map[string]any{
			"node_type":   prop("string", "Block type the schema governs"),
			"json_schema": prop("object", "JSON Schema draft 2020-12 document"),
		}, "node_type", "json_schema"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				NodeType   string          `json:"node_type"`
				JSONSchema json.RawMessage `json:"json_schema"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			schema, err := svc.RegisterSchema(ctx, args.NodeType, args.JSONSchema)
			return svc.Envelope(schema, err)
		},
	}
}

func getSchemaTool(svc Service) *Tool {
	return &Tool{
		Name:        "GetSchema",
		Description: "Fetch one registered schema, latest version unless a version is pinned.",
		InputSchema: objectSchema(map[string]any{
			"node_type": prop("string", "Block type"),
			"version":   prop("integer", "Schema version; latest when omitted"),
		}, "node_type"),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			var args struct {
				NodeType string `json:"node_type"`
				Version  *int   `json:"version,omitempty"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return svc.Envelope(nil, err)
			}
			schema, err := svc.GetSchema(ctx, args.NodeType, args.Version)
			return svc.Envelope(schema, err)
		},
	}
}

func listSchemasTool(svc Service) *Tool {
	return &Tool{
		Name:        "ListSchemas",
		Description: "List the latest version of every registered block-type schema.",
		InputSchema: objectSchema(map[string]any{}),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			if err := decodeArgs(raw, &struct{}{}); err != nil {
				return svc.Envelope(nil, err)
			}
			schemas, err := svc.Schemas(ctx)
			return svc.Envelope(map[string]any{"schemas": schemas, "count": len(schemas)}, err)
		},
	}
}

func healthCheckTool(svc Service) *Tool {
	return &Tool{
		Name:        "HealthCheck",
		Description: "Report backend reachability, the active branch and its dirty state, and semantic index freshness.",
		InputSchema: objectSchema(map[string]any{}),
		Handler: func(ctx context.Context, raw json.RawMessage) memorybank.Result {
			if err := decodeArgs(raw, &struct{}{}); err != nil {
				return svc.Envelope(nil, err)
			}
			report := svc.Health(ctx)
			res := svc.Envelope(report, nil)
			res.OK = report.Healthy
			return res
		},
	}
}
