package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/memorybank/internal/dolt"
	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/links"
	"github.com/rohankatakam/memorybank/internal/memorybank"
	"github.com/rohankatakam/memorybank/internal/models"
)

// fakeService records what the tools hand it and returns canned values.
// Failure hooks drive the partial-failure paths of the bulk tools.
type fakeService struct {
	branch string

	blockCalls    int
	blocks        []dolt.CreateBlockInput
	failBlockType string

	linkCalls    int
	links        []links.CreateInput
	failRelation string

	patchID    string
	patch      *models.BlockPatch
	filter     *models.BlockFilter
	walkID     string
	walkFilter *models.LinkFilter
	linkQuery  *models.LinkQuery
	search     memorybank.SearchRequest
	commitMsg  string
	namespace  dolt.CreateNamespaceInput

	health memorybank.HealthReport
}

func newFakeService() *fakeService {
	return &fakeService{
		branch: "main",
		health: memorybank.HealthReport{Healthy: true, ActiveBranch: "main"},
	}
}

func (f *fakeService) Envelope(data any, err error) memorybank.Result {
	res := memorybank.Result{ActiveBranch: f.branch}
	if err != nil {
		res.Error = memorybank.Describe(err)
		return res
	}
	res.OK = true
	res.Data = data
	return res
}

func (f *fakeService) DefaultDeadline() time.Duration { return 0 }

func (f *fakeService) CreateBlock(_ context.Context, in dolt.CreateBlockInput) (*memorybank.BlockMutation, error) {
	f.blockCalls++
	if f.failBlockType != "" && in.Type == f.failBlockType {
		return nil, errors.New(errors.KindValidation, "metadata failed schema validation")
	}
	f.blocks = append(f.blocks, in)
	id := in.ID
	if id == "" {
		id = fmt.Sprintf("blk-%d", len(f.blocks))
	}
	return &memorybank.BlockMutation{BlockID: id, CommitHash: "hash1", Branch: f.branch, IndexSynced: true}, nil
}

func (f *fakeService) UpdateBlock(_ context.Context, id string, patch *models.BlockPatch, _ string) (*memorybank.BlockMutation, error) {
	f.patchID, f.patch = id, patch
	return &memorybank.BlockMutation{BlockID: id, CommitHash: "hash2", Branch: f.branch, IndexSynced: true}, nil
}

func (f *fakeService) DeleteBlock(_ context.Context, id, _ string) (*memorybank.BlockMutation, error) {
	return &memorybank.BlockMutation{BlockID: id, CommitHash: "hash3", Branch: f.branch, IndexSynced: true}, nil
}

func (f *fakeService) GetBlock(_ context.Context, id string, _ memorybank.GetBlockOptions) (*memorybank.BlockDetail, error) {
	return &memorybank.BlockDetail{Block: &models.MemoryBlock{ID: id}}, nil
}

func (f *fakeService) QueryBlocks(_ context.Context, filter *models.BlockFilter) (*models.QueryPage, error) {
	f.filter = filter
	return &models.QueryPage{Blocks: []*models.MemoryBlock{}}, nil
}

func (f *fakeService) CreateLink(_ context.Context, in links.CreateInput) (*memorybank.LinkMutation, error) {
	f.linkCalls++
	if f.failRelation != "" && in.Relation == f.failRelation {
		return nil, errors.New(errors.KindCycleDetected, "relation would close a cycle")
	}
	f.links = append(f.links, in)
	return &memorybank.LinkMutation{CommitHash: "linkhash", Branch: f.branch, IndexSynced: true}, nil
}

func (f *fakeService) DeleteLink(_ context.Context, _, _, _, _ string) (*memorybank.LinkMutation, error) {
	return &memorybank.LinkMutation{CommitHash: "unlinkhash", Branch: f.branch, IndexSynced: true}, nil
}

func (f *fakeService) LinkedBlocks(_ context.Context, blockID string, filter *models.LinkFilter) ([]models.LinkedBlock, error) {
	f.walkID, f.walkFilter = blockID, filter
	return []models.LinkedBlock{}, nil
}

func (f *fakeService) ListLinks(_ context.Context, q *models.LinkQuery) (*models.LinkPage, error) {
	f.linkQuery = q
	return &models.LinkPage{Links: []models.BlockLink{}, Total: 0}, nil
}

func (f *fakeService) SemanticSearch(_ context.Context, req memorybank.SearchRequest) (*memorybank.SearchResponse, error) {
	f.search = req
	return &memorybank.SearchResponse{Hits: []models.SearchHit{}, Branch: f.branch}, nil
}

func (f *fakeService) Branches(_ context.Context) ([]models.BranchInfo, error) {
	return []models.BranchInfo{{Name: "main", Hash: "abc123", Active: true}}, nil
}

func (f *fakeService) ActiveBranchInfo(_ context.Context) (*memorybank.BranchHead, error) {
	return &memorybank.BranchHead{Branch: f.branch, Head: "abc123"}, nil
}

func (f *fakeService) Checkout(_ context.Context, branch string) (*memorybank.BranchChange, error) {
	prev := f.branch
	f.branch = branch
	return &memorybank.BranchChange{Branch: branch, Previous: prev}, nil
}

func (f *fakeService) CreateBranch(_ context.Context, name, from string, checkout bool) (*memorybank.CreateBranchResult, error) {
	return &memorybank.CreateBranchResult{Name: name, From: from, CheckedOut: checkout, ActiveBranch: f.branch}, nil
}

func (f *fakeService) Commit(_ context.Context, message, _ string) (*memorybank.CommitResult, error) {
	f.commitMsg = message
	return &memorybank.CommitResult{Hash: "abc123", Branch: f.branch}, nil
}

func (f *fakeService) Merge(_ context.Context, source, strategy string) (*memorybank.MergeOutcome, error) {
	if strategy == "" {
		strategy = dolt.MergeThreeWay
	}
	return &memorybank.MergeOutcome{
		Result:   &dolt.MergeResult{Hash: "merged"},
		Branch:   f.branch,
		Source:   source,
		Strategy: strategy,
	}, nil
}

func (f *fakeService) Namespaces(_ context.Context) ([]models.Namespace, error) {
	return []models.Namespace{{ID: "ns-default", Slug: "default", IsDefault: true}}, nil
}

func (f *fakeService) CreateNamespace(_ context.Context, in dolt.CreateNamespaceInput) (*models.Namespace, error) {
	f.namespace = in
	return &models.Namespace{ID: "ns-1", Name: in.Name, Slug: in.Slug}, nil
}

func (f *fakeService) RegisterSchema(_ context.Context, nodeType string, def json.RawMessage) (*models.NodeSchema, error) {
	return &models.NodeSchema{NodeType: nodeType, Version: 1, Definition: def}, nil
}

func (f *fakeService) GetSchema(_ context.Context, nodeType string, version *int) (*models.NodeSchema, error) {
	v := 1
	if version != nil {
		v = *version
	}
	return &models.NodeSchema{NodeType: nodeType, Version: v}, nil
}

func (f *fakeService) Schemas(_ context.Context) ([]*models.NodeSchema, error) {
	return []*models.NodeSchema{{NodeType: "task", Version: 1}}, nil
}

func (f *fakeService) Health(_ context.Context) memorybank.HealthReport { return f.health }

func callTool(t *testing.T, r *Registry, name, args string) memorybank.Result {
	t.Helper()
	tool, ok := r.Get(name)
	require.True(t, ok, "tool %q not registered", name)
	return tool.Handler(context.Background(), json.RawMessage(args))
}

func TestCatalogOrderAndShape(t *testing.T) {
	r := BuildCatalog(newFakeService())

	want := []string{
		"CreateMemoryBlock", "UpdateMemoryBlock", "DeleteMemoryBlock",
		"GetMemoryBlock", "QueryMemoryBlocks", "BulkCreateBlocks",
		"CreateBlockLink", "DeleteBlockLink", "BulkCreateLinks",
		"GetLinkedBlocks", "ListLinks", "SemanticSearch",
		"ListBranches", "GetActiveBranch", "CheckoutBranch", "CreateBranch",
		"Commit", "Merge",
		"ListNamespaces", "CreateNamespace",
		"RegisterSchema", "GetSchema", "ListSchemas",
		"HealthCheck",
	}

	var got []string
	for _, tool := range r.List() {
		got = append(got, tool.Name)
		assert.NotEmpty(t, tool.Description, "%s needs a description", tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"], "%s input schema", tool.Name)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, len(want), r.Len())
}

func TestCreateBlockMapsArguments(t *testing.T) {
	svc := newFakeService()
	r := BuildCatalog(svc)

	res := callTool(t, r, "CreateMemoryBlock", `{
		"id": "blk-7",
		"namespace": "legal",
		"type": "task",
		"text": "review the contract",
		"tags": ["Urgent", "q3"],
		"metadata": {"priority": "high"},
		"schema_version": 2,
		"actor": "agent-1"
	}`)

	require.True(t, res.OK)
	assert.Equal(t, "main", res.ActiveBranch)
	require.Len(t, svc.blocks, 1)

	in := svc.blocks[0]
	assert.Equal(t, "blk-7", in.ID)
	assert.Equal(t, "legal", in.Namespace)
	assert.Equal(t, "task", in.Type)
	assert.Equal(t, "review the contract", in.Text)
	assert.Equal(t, []string{"Urgent", "q3"}, in.Tags)
	assert.Equal(t, "high", in.Metadata["priority"])
	require.NotNil(t, in.SchemaVersion)
	assert.Equal(t, 2, *in.SchemaVersion)
	assert.Equal(t, "agent-1", in.Actor)
}

func TestUnknownArgumentRejected(t *testing.T) {
	svc := newFakeService()
	r := BuildCatalog(svc)

	res := callTool(t, r, "CreateMemoryBlock", `{"type":"task","text":"x","bogus":true}`)

	assert.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, "Validation", res.Error.Kind)
	assert.Equal(t, "main", res.ActiveBranch)
	assert.Zero(t, svc.blockCalls, "service must not be called on bad args")
}

func TestTrailingArgumentDataRejected(t *testing.T) {
	r := BuildCatalog(newFakeService())

	res := callTool(t, r, "CheckoutBranch", `{"branch":"dev"}{"branch":"other"}`)

	assert.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, "Validation", res.Error.Kind)
}

func TestNoArgToolRejectsArguments(t *testing.T) {
	r := BuildCatalog(newFakeService())

	res := callTool(t, r, "ListBranches", `{"branch":"dev"}`)
	assert.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, "Validation", res.Error.Kind)

	res = callTool(t, r, "ListBranches", ``)
	assert.True(t, res.OK)
}

func TestUpdateBlockPatchDecoding(t *testing.T) {
	svc := newFakeService()
	r := BuildCatalog(svc)

	res := callTool(t, r, "UpdateMemoryBlock", `{
		"block_id": "blk-7",
		"text": "revised",
		"merge_metadata": {"status": "done"},
		"if_version": 4
	}`)

	require.True(t, res.OK)
	assert.Equal(t, "blk-7", svc.patchID)
	require.NotNil(t, svc.patch)
	require.NotNil(t, svc.patch.Text)
	assert.Equal(t, "revised", *svc.patch.Text)
	assert.Nil(t, svc.patch.Metadata)
	assert.Equal(t, "done", svc.patch.MergeMetadata["status"])
	require.NotNil(t, svc.patch.IfVersion)
	assert.Equal(t, 4, *svc.patch.IfVersion)
}

func TestQueryFilterDecoding(t *testing.T) {
	svc := newFakeService()
	r := BuildCatalog(svc)

	res := callTool(t, r, "QueryMemoryBlocks", `{
		"namespace": "legal",
		"type": "task",
		"tags": ["urgent"],
		"tags_match_all": true,
		"order_by": "updated_at",
		"descending": true,
		"limit": 25
	}`)

	require.True(t, res.OK)
	require.NotNil(t, svc.filter)
	assert.Equal(t, "legal", svc.filter.Namespace)
	assert.True(t, svc.filter.TagsMatchAll)
	assert.Equal(t, "updated_at", svc.filter.OrderBy)
	assert.True(t, svc.filter.Descending)
	assert.Equal(t, 25, svc.filter.Limit)
}

func TestLinkedBlocksFilterDecoding(t *testing.T) {
	svc := newFakeService()
	r := BuildCatalog(svc)

	res := callTool(t, r, "GetLinkedBlocks", `{
		"block_id": "blk-7",
		"relation": "depends_on",
		"direction": "out",
		"depth": 2
	}`)

	require.True(t, res.OK)
	assert.Equal(t, "blk-7", svc.walkID)
	require.NotNil(t, svc.walkFilter)
	assert.Equal(t, "depends_on", svc.walkFilter.Relation)
	assert.Equal(t, "out", svc.walkFilter.Direction)
	assert.Equal(t, 2, svc.walkFilter.Depth)
}

func TestListLinksQueryDecoding(t *testing.T) {
	svc := newFakeService()
	r := BuildCatalog(svc)

	res := callTool(t, r, "ListLinks", `{
		"from_id": "blk-7",
		"relation": "depends_on",
		"limit": 100,
		"cursor": "tok"
	}`)

	require.True(t, res.OK)
	require.NotNil(t, svc.linkQuery)
	assert.Equal(t, "blk-7", svc.linkQuery.FromID)
	assert.Empty(t, svc.linkQuery.ToID)
	assert.Equal(t, "depends_on", svc.linkQuery.Relation)
	assert.Equal(t, 100, svc.linkQuery.Limit)
	assert.Equal(t, "tok", svc.linkQuery.Cursor)
}

func TestSemanticSearchDecoding(t *testing.T) {
	svc := newFakeService()
	r := BuildCatalog(svc)

	res := callTool(t, r, "SemanticSearch", `{
		"text": "contract deadlines",
		"k": 5,
		"namespace": "legal",
		"expand_neighbors": true
	}`)

	require.True(t, res.OK)
	assert.Equal(t, "contract deadlines", svc.search.Text)
	assert.Equal(t, 5, svc.search.K)
	assert.Equal(t, "legal", svc.search.Namespace)
	assert.True(t, svc.search.ExpandNeighbors)
}

func TestBulkCreateBlocksContinuesPastFailures(t *testing.T) {
	svc := newFakeService()
	svc.failBlockType = "bad"
	r := BuildCatalog(svc)

	res := callTool(t, r, "BulkCreateBlocks", `{"blocks":[
		{"type":"task","text":"one"},
		{"type":"bad","text":"two"},
		{"type":"task","text":"three"}
	],"actor":"batch-agent"}`)

	assert.False(t, res.OK, "any failed item fails the batch")
	assert.Equal(t, 3, svc.blockCalls, "failures must not stop later items")

	data := res.Data.(map[string]any)
	assert.Equal(t, 2, data["succeeded"])
	assert.Equal(t, 1, data["failed"])

	items := data["results"].([]BulkItem)
	require.Len(t, items, 3)
	assert.True(t, items[0].OK)
	assert.False(t, items[1].OK)
	require.NotNil(t, items[1].Error)
	assert.Equal(t, "Validation", items[1].Error.Kind)
	assert.True(t, items[2].OK)

	for _, in := range svc.blocks {
		assert.Equal(t, "batch-agent", in.Actor, "batch actor fills empty item actors")
	}
}

func TestBulkCreateBlocksAllGood(t *testing.T) {
	svc := newFakeService()
	r := BuildCatalog(svc)

	res := callTool(t, r, "BulkCreateBlocks", `{"blocks":[
		{"type":"task","text":"one"},
		{"type":"doc","text":"two"}
	]}`)

	assert.True(t, res.OK)
	data := res.Data.(map[string]any)
	assert.Equal(t, 2, data["succeeded"])
	assert.Equal(t, 0, data["failed"])
}

func TestBulkCreateBlocksRequiresItems(t *testing.T) {
	r := BuildCatalog(newFakeService())

	res := callTool(t, r, "BulkCreateBlocks", `{"blocks":[]}`)
	assert.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, "Validation", res.Error.Kind)
}

func TestBulkCreateLinksStopsAtFirstFailure(t *testing.T) {
	svc := newFakeService()
	svc.failRelation = "child_of"
	r := BuildCatalog(svc)

	res := callTool(t, r, "BulkCreateLinks", `{"links":[
		{"from_id":"a","to_id":"b","relation":"related_to"},
		{"from_id":"b","to_id":"a","relation":"child_of"},
		{"from_id":"c","to_id":"d","relation":"related_to"}
	]}`)

	assert.False(t, res.OK)
	assert.Equal(t, 2, svc.linkCalls, "items after the failure must not run")

	data := res.Data.(map[string]any)
	assert.Equal(t, 1, data["succeeded"])
	assert.Equal(t, 1, data["failed"])
	assert.Equal(t, 2, data["attempted"])

	items := data["results"].([]BulkItem)
	require.Len(t, items, 2)
	assert.True(t, items[0].OK)
	assert.False(t, items[1].OK)
	assert.Equal(t, "CycleDetected", items[1].Error.Kind)
}

func TestCreateNamespaceMapsArguments(t *testing.T) {
	svc := newFakeService()
	r := BuildCatalog(svc)

	res := callTool(t, r, "CreateNamespace", `{"name":"Legal Docs","slug":"legal","owner_id":"agent-1"}`)

	require.True(t, res.OK)
	assert.Equal(t, "Legal Docs", svc.namespace.Name)
	assert.Equal(t, "legal", svc.namespace.Slug)
	assert.Equal(t, "agent-1", svc.namespace.OwnerID)
}

func TestHealthCheckMirrorsHealth(t *testing.T) {
	svc := newFakeService()
	r := BuildCatalog(svc)

	res := callTool(t, r, "HealthCheck", `{}`)
	assert.True(t, res.OK)

	svc.health.Healthy = false
	res = callTool(t, r, "HealthCheck", `{}`)
	assert.False(t, res.OK, "an unhealthy backend fails the check")
	assert.Nil(t, res.Error, "degraded health is data, not a domain error")
}

func TestEveryToolReportsActiveBranch(t *testing.T) {
	svc := newFakeService()
	r := BuildCatalog(svc)

	res := callTool(t, r, "GetActiveBranch", `{}`)
	require.True(t, res.OK)
	assert.Equal(t, "main", res.ActiveBranch)

	res = callTool(t, r, "CheckoutBranch", `{"branch":"experiment"}`)
	require.True(t, res.OK)
	assert.Equal(t, "experiment", res.ActiveBranch, "envelope reflects the branch after the switch")
}
