package dolt

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rohankatakam/memorybank/internal/config"
	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/models"
)

// MetadataValidator validates block metadata against the registered schema
// for a type. The schema registry satisfies it.
type MetadataValidator interface {
	ValidateMetadata(ctx context.Context, nodeType string, version *int, metadata map[string]any) (int, error)
}

// Writer applies block, link, and namespace mutations on the active branch.
// Every mutation lands as a commit, followed by a second commit that records
// the proof row carrying the first commit's hash.
type Writer struct {
	co        *Coordinator
	reader    *Reader
	validator MetadataValidator
	branches  config.BranchConfig
	defaultNS string
	logger    *slog.Logger
}

func NewWriter(co *Coordinator, reader *Reader, validator MetadataValidator, cfg *config.Config) *Writer {
	return &Writer{
		co:        co,
		reader:    reader,
		validator: validator,
		branches:  cfg.Branch,
		defaultNS: cfg.Namespace.Default,
		logger:    logging.Component("dolt-writer"),
	}
}

// guardWritable rejects mutations aimed at a protected branch.
func (w *Writer) guardWritable() error {
	branch := w.co.ActiveBranch()
	if w.branches.IsProtected(branch) {
		return errors.New(errors.KindProtectedBranch,
			fmt.Sprintf("branch %q is protected; create a work branch and merge instead", branch)).
			WithDetail("branch", branch).
			WithDetail("protected", w.branches.Protected)
	}
	return nil
}

// CreateBlockInput carries the caller-settable fields of a new block.
// ParentID attaches the block under an existing one; SourceFile, SourceURI,
// and Confidence record where the content came from. Embedding, when set,
// skips the provider round trip during index sync.
type CreateBlockInput struct {
	ID            string
	Namespace     string
	Type          string
	Text          string
	State         string
	Visibility    string
	ParentID      string
	Tags          []string
	Metadata      models.JSONMap
	SourceFile    string
	SourceURI     string
	Confidence    models.JSONMap
	SchemaVersion *int
	Embedding     []float32
	Actor         string
}

// CreateBlock validates, inserts, and commits a new block, returning the
// stored block and the commit hash that captured it.
func (w *Writer) CreateBlock(ctx context.Context, in CreateBlockInput) (*models.MemoryBlock, string, error) {
	if err := w.guardWritable(); err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(in.Type) == "" {
		return nil, "", errors.New(errors.KindValidation, "block type is required")
	}

	state := in.State
	if state == "" {
		state = models.StateDraft
	}
	if !models.IsValidState(state) {
		return nil, "", errors.New(errors.KindValidation,
			fmt.Sprintf("unknown state %q", state)).
			WithDetail("allowed", models.ValidStates)
	}
	visibility := in.Visibility
	if visibility == "" {
		visibility = models.VisibilityInternal
	}
	if !models.IsValidVisibility(visibility) {
		return nil, "", errors.New(errors.KindValidation,
			fmt.Sprintf("unknown visibility %q", visibility)).
			WithDetail("allowed", models.ValidVisibilities)
	}

	namespace := in.Namespace
	if namespace == "" {
		namespace = w.defaultNS
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	if in.ParentID == id {
		return nil, "", errors.New(errors.KindValidation, "a block cannot be its own parent").
			WithDetail("block_id", id)
	}
	actor := in.Actor
	if actor == "" {
		actor = "agent"
	}

	schemaVersion, err := w.validator.ValidateMetadata(ctx, in.Type, in.SchemaVersion, in.Metadata)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	block := &models.MemoryBlock{
		ID:            id,
		Namespace:     namespace,
		Type:          in.Type,
		Text:          in.Text,
		State:         state,
		Visibility:    visibility,
		ParentID:      optionalString(in.ParentID),
		Tags:          models.NormalizeTags(in.Tags),
		Metadata:      in.Metadata,
		SourceFile:    optionalString(in.SourceFile),
		SourceURI:     optionalString(in.SourceURI),
		Confidence:    in.Confidence,
		SchemaVersion: &schemaVersion,
		BlockVersion:  1,
		CreatedBy:     actor,
		CreatedAt:     now,
		UpdatedAt:     now,
		Embedding:     models.Vector(in.Embedding),
	}

	var hash string
	err = w.co.Active().Write(ctx, func(e Execer) error {
		nsID, err := resolveNamespace(ctx, e, namespace)
		if err != nil {
			return err
		}
		block.Namespace = nsID

		if block.ParentID != nil {
			var one int
			err := e.GetContext(ctx, &one,
				"SELECT 1 FROM memory_blocks WHERE id = ?", *block.ParentID)
			if stderrors.Is(err, sql.ErrNoRows) {
				return errors.New(errors.KindNotFound,
					fmt.Sprintf("parent block %q not found", *block.ParentID)).
					WithDetail("parent_id", *block.ParentID)
			}
			if err != nil {
				return err
			}
		}

		if _, err := e.ExecContext(ctx, `
			INSERT INTO memory_blocks
			    (id, namespace_id, type, text, state, visibility, parent_id,
			     has_children, tags, metadata, source_file, source_uri, confidence,
			     schema_version, block_version, created_by, created_at, updated_at,
			     embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			block.ID, block.Namespace, block.Type, block.Text, block.State,
			block.Visibility, block.ParentID, block.Tags, block.Metadata,
			block.SourceFile, block.SourceURI, block.Confidence, block.SchemaVersion,
			block.BlockVersion, block.CreatedBy, block.CreatedAt, block.UpdatedAt,
			block.Embedding,
		); err != nil {
			return err
		}
		if block.ParentID != nil {
			if _, err := e.ExecContext(ctx,
				"UPDATE memory_blocks SET has_children = 1 WHERE id = ?",
				*block.ParentID); err != nil {
				return err
			}
		}
		if err := insertProperties(ctx, e, block.ID, block.Metadata, now); err != nil {
			return err
		}

		h, err := commitAll(ctx, e,
			fmt.Sprintf("Create %s block %s", block.Type, block.ID), actor)
		if err != nil {
			return err
		}
		hash = h
		return recordProof(ctx, e, block.ID, hash, models.ProofCreate, actor)
	})
	if err != nil {
		if errors.HasKind(err, errors.KindDuplicate) {
			return nil, "", errors.Wrap(err, errors.KindDuplicate,
				fmt.Sprintf("block %q already exists", id)).
				WithDetail("block_id", id)
		}
		return nil, "", err
	}

	w.logger.Info("block created",
		"block_id", block.ID, "type", block.Type, "namespace", block.Namespace,
		"commit", hash)
	return block, hash, nil
}

// UpdateBlock applies a partial update. When the patch carries IfVersion, a
// version mismatch fails with OptimisticConflict and changes nothing.
func (w *Writer) UpdateBlock(ctx context.Context, id string, patch *models.BlockPatch, actor string) (*models.MemoryBlock, string, error) {
	if err := w.guardWritable(); err != nil {
		return nil, "", err
	}
	if patch.IsEmpty() {
		return nil, "", errors.New(errors.KindValidation, "patch changes nothing")
	}
	if actor == "" {
		actor = "agent"
	}

	current, err := w.reader.GetBlock(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if patch.IfVersion != nil && *patch.IfVersion != current.BlockVersion {
		return nil, "", versionConflict(id, *patch.IfVersion, current.BlockVersion)
	}

	next := *current
	if patch.Text != nil {
		next.Text = *patch.Text
	}
	if patch.State != nil {
		if !models.IsValidState(*patch.State) {
			return nil, "", errors.New(errors.KindValidation,
				fmt.Sprintf("unknown state %q", *patch.State)).
				WithDetail("allowed", models.ValidStates)
		}
		next.State = *patch.State
	}
	if patch.Visibility != nil {
		if !models.IsValidVisibility(*patch.Visibility) {
			return nil, "", errors.New(errors.KindValidation,
				fmt.Sprintf("unknown visibility %q", *patch.Visibility)).
				WithDetail("allowed", models.ValidVisibilities)
		}
		next.Visibility = *patch.Visibility
	}
	if patch.Tags != nil {
		next.Tags = models.NormalizeTags(*patch.Tags)
	}
	next.Metadata = mergeMetadata(current.Metadata, patch)

	// Metadata stays pinned to the version the block was written with, so a
	// later schema revision cannot invalidate an untouched field set.
	schemaVersion, err := w.validator.ValidateMetadata(ctx, current.Type, current.SchemaVersion, next.Metadata)
	if err != nil {
		return nil, "", err
	}
	next.SchemaVersion = &schemaVersion
	next.BlockVersion = current.BlockVersion + 1
	next.UpdatedAt = time.Now().UTC()

	var hash string
	err = w.co.Active().Write(ctx, func(e Execer) error {
		res, err := e.ExecContext(ctx, `
			UPDATE memory_blocks
			SET text = ?, state = ?, visibility = ?, tags = ?, metadata = ?,
			    schema_version = ?, block_version = ?, updated_at = ?
			WHERE id = ? AND block_version = ?`,
			next.Text, next.State, next.Visibility, next.Tags, next.Metadata,
			next.SchemaVersion, next.BlockVersion, next.UpdatedAt,
			id, current.BlockVersion,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// Someone moved the block between our read and this write.
			var actual int
			err := e.GetContext(ctx, &actual,
				"SELECT block_version FROM memory_blocks WHERE id = ?", id)
			if stderrors.Is(err, sql.ErrNoRows) {
				return errors.New(errors.KindNotFound,
					fmt.Sprintf("block %q not found", id)).
					WithDetail("block_id", id)
			}
			if err != nil {
				return err
			}
			return versionConflict(id, current.BlockVersion, actual)
		}

		if _, err := e.ExecContext(ctx,
			"DELETE FROM block_properties WHERE block_id = ?", id); err != nil {
			return err
		}
		if err := insertProperties(ctx, e, id, next.Metadata, next.UpdatedAt); err != nil {
			return err
		}

		h, err := commitAll(ctx, e,
			fmt.Sprintf("Update block %s to v%d", id, next.BlockVersion), actor)
		if err != nil {
			return err
		}
		hash = h
		return recordProof(ctx, e, id, hash, models.ProofUpdate, actor)
	})
	if err != nil {
		return nil, "", err
	}

	w.logger.Info("block updated",
		"block_id", id, "block_version", next.BlockVersion, "commit", hash)
	return &next, hash, nil
}

// DeleteBlock removes a block, its property rows, and every link touching
// it. The delete proof row outlives the block.
func (w *Writer) DeleteBlock(ctx context.Context, id, actor string) (string, error) {
	if err := w.guardWritable(); err != nil {
		return "", err
	}
	if actor == "" {
		actor = "agent"
	}

	var hash string
	err := w.co.Active().Write(ctx, func(e Execer) error {
		var parentID string
		err := e.GetContext(ctx, &parentID,
			"SELECT COALESCE(parent_id, '') FROM memory_blocks WHERE id = ?", id)
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.New(errors.KindNotFound,
				fmt.Sprintf("block %q not found", id)).
				WithDetail("block_id", id)
		}
		if err != nil {
			return err
		}

		if _, err := e.ExecContext(ctx,
			"DELETE FROM block_links WHERE from_id = ? OR to_id = ?", id, id); err != nil {
			return err
		}
		// Children survive their parent as roots.
		if _, err := e.ExecContext(ctx,
			"UPDATE memory_blocks SET parent_id = NULL WHERE parent_id = ?", id); err != nil {
			return err
		}
		// block_properties rows cascade with the block.
		if _, err := e.ExecContext(ctx,
			"DELETE FROM memory_blocks WHERE id = ?", id); err != nil {
			return err
		}
		if parentID != "" {
			var remaining int
			if err := e.GetContext(ctx, &remaining,
				"SELECT COUNT(*) FROM memory_blocks WHERE parent_id = ?", parentID); err != nil {
				return err
			}
			if _, err := e.ExecContext(ctx,
				"UPDATE memory_blocks SET has_children = ? WHERE id = ?",
				remaining > 0, parentID); err != nil {
				return err
			}
		}

		h, err := commitAll(ctx, e, fmt.Sprintf("Delete block %s", id), actor)
		if err != nil {
			return err
		}
		hash = h
		return recordProof(ctx, e, id, hash, models.ProofDelete, actor)
	})
	if err != nil {
		return "", err
	}

	w.logger.Info("block deleted", "block_id", id, "commit", hash)
	return hash, nil
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// CreateNamespaceInput carries the caller-settable fields of a namespace.
type CreateNamespaceInput struct {
	Name        string
	Slug        string
	OwnerID     string
	Description string
	Actor       string
}

// CreateNamespace registers a new isolation scope.
func (w *Writer) CreateNamespace(ctx context.Context, in CreateNamespaceInput) (*models.Namespace, error) {
	if err := w.guardWritable(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, errors.New(errors.KindValidation, "namespace name is required")
	}
	slug := in.Slug
	if slug == "" {
		slug = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(in.Name), " ", "-"))
	}
	if !slugPattern.MatchString(slug) {
		return nil, errors.New(errors.KindValidation,
			fmt.Sprintf("invalid namespace slug %q", slug)).
			WithDetail("slug", slug)
	}
	actor := in.Actor
	if actor == "" {
		actor = "agent"
	}

	now := time.Now().UTC()
	ns := &models.Namespace{
		ID:          slug,
		Name:        in.Name,
		Slug:        slug,
		OwnerID:     in.OwnerID,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsActive:    true,
	}

	err := w.co.Active().Write(ctx, func(e Execer) error {
		if _, err := e.ExecContext(ctx, `
			INSERT INTO namespaces
			    (id, name, slug, owner_id, description, created_at, updated_at, is_active, is_default)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, 0)`,
			ns.ID, ns.Name, ns.Slug, ns.OwnerID, ns.Description, ns.CreatedAt, ns.UpdatedAt,
		); err != nil {
			return err
		}
		_, err := commitAll(ctx, e, fmt.Sprintf("Create namespace %s", ns.Slug), actor)
		return err
	})
	if err != nil {
		if errors.HasKind(err, errors.KindDuplicate) {
			return nil, errors.Wrap(err, errors.KindDuplicate,
				fmt.Sprintf("namespace %q already exists", slug)).
				WithDetail("namespace", slug)
		}
		return nil, err
	}

	w.logger.Info("namespace created", "namespace", ns.Slug)
	return ns, nil
}

// resolveNamespace maps an id or slug to the namespace id, requiring it to
// be active.
func resolveNamespace(ctx context.Context, e Execer, idOrSlug string) (string, error) {
	var nsID string
	err := e.GetContext(ctx, &nsID,
		"SELECT id FROM namespaces WHERE (id = ? OR slug = ?) AND is_active = 1",
		idOrSlug, idOrSlug)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", errors.New(errors.KindNamespaceMissing,
			fmt.Sprintf("namespace %q does not exist", idOrSlug)).
			WithDetail("namespace", idOrSlug)
	}
	if err != nil {
		return "", err
	}
	return nsID, nil
}

func insertProperties(ctx context.Context, e Execer, blockID string, metadata models.JSONMap, now time.Time) error {
	for _, p := range decomposeMetadata(blockID, metadata, now) {
		if _, err := e.ExecContext(ctx, `
			INSERT INTO block_properties
			    (block_id, property_name, property_type, value_text,
			     value_number, value_json, is_computed, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.BlockID, p.Name, p.ValueType, p.TextValue, p.NumberValue,
			p.JSONValue, p.IsComputed, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert property %q: %w", p.Name, err)
		}
	}
	return nil
}

// recordProof writes the proof row for a mutation and commits it. The proof
// must reference the mutation commit's hash, which only exists after that
// commit, hence the follow-up commit.
func recordProof(ctx context.Context, e Execer, blockID, commitHash, operation, actor string) error {
	if _, err := e.ExecContext(ctx, `
		INSERT INTO block_proofs (id, block_id, commit_hash, operation, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), blockID, commitHash, operation, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("insert proof: %w", err)
	}
	_, err := commitAll(ctx, e,
		fmt.Sprintf("Record %s proof for block %s", operation, blockID), actor)
	return err
}

// mergeMetadata applies the patch's metadata semantics: Metadata replaces the
// whole document, MergeMetadata overlays top-level keys with null deleting.
func mergeMetadata(current models.JSONMap, patch *models.BlockPatch) models.JSONMap {
	base := current
	if patch.Metadata != nil {
		base = *patch.Metadata
	}
	if len(patch.MergeMetadata) == 0 {
		return base
	}
	merged := make(models.JSONMap, len(base)+len(patch.MergeMetadata))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch.MergeMetadata {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// optionalString maps "" to NULL.
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func versionConflict(id string, expected, actual int) error {
	return errors.New(errors.KindOptimisticConflict,
		fmt.Sprintf("block %q is at version %d, expected %d", id, actual, expected)).
		WithDetail("block_id", id).
		WithDetail("expected_version", expected).
		WithDetail("actual_version", actual)
}
