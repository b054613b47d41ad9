package dolt

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/models"
)

var validBranchName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

// ValidateBranchName rejects names Dolt or ref handling would choke on.
func ValidateBranchName(name string) error {
	if name == "" || !validBranchName.MatchString(name) || strings.Contains(name, "..") {
		return errors.New(errors.KindValidation,
			fmt.Sprintf("invalid branch name %q", name)).
			WithDetail("branch", name)
	}
	return nil
}

// queryDirty reports whether the working set has uncommitted changes.
func queryDirty(ctx context.Context, e Execer, dirty *bool) error {
	var n int
	if err := e.GetContext(ctx, &n, "SELECT COUNT(*) FROM dolt_status"); err != nil {
		return fmt.Errorf("read dolt_status: %w", err)
	}
	*dirty = n > 0
	return nil
}

// commitAll stages everything and commits, returning the new commit hash.
func commitAll(ctx context.Context, e Execer, message, actor string) (string, error) {
	var hash string
	row := e.QueryRowxContext(ctx,
		"CALL DOLT_COMMIT('-A', '-m', ?, '--author', ?)", message, authorString(actor))
	if err := row.Scan(&hash); err != nil {
		return "", fmt.Errorf("dolt commit: %w", err)
	}
	return hash, nil
}

// headHash returns the commit hash at HEAD of the session branch.
func headHash(ctx context.Context, e Execer) (string, error) {
	var hash string
	if err := e.GetContext(ctx, &hash,
		"SELECT commit_hash FROM dolt_log LIMIT 1"); err != nil {
		return "", fmt.Errorf("read head: %w", err)
	}
	return hash, nil
}

func authorString(actor string) string {
	if actor == "" {
		actor = "agent"
	}
	local := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '-'
	}, actor)
	return fmt.Sprintf("%s <%s@memorybank.local>", actor, local)
}

// ListBranches returns every branch with its head hash, working-set state,
// and an active marker.
func (co *Coordinator) ListBranches(ctx context.Context) ([]models.BranchInfo, error) {
	var branches []models.BranchInfo
	err := co.client.DB().SelectContext(ctx, &branches,
		"SELECT name, hash FROM dolt_branches ORDER BY name")
	if err != nil {
		return nil, mapError(err, "list branches")
	}
	active := co.ActiveBranch()
	for i := range branches {
		branches[i].Active = branches[i].Name == active
		branches[i].Dirty = co.branchDirty(ctx, branches[i].Name)
	}
	return branches, nil
}

// branchDirty reports uncommitted changes on one branch. Revision databases
// (`db/branch`) expose every branch's dolt_status without a checkout; a
// backend without them reports clean.
func (co *Coordinator) branchDirty(ctx context.Context, branch string) bool {
	var n int
	table := fmt.Sprintf("`%s/%s`.dolt_status", co.client.Database(), branch)
	if err := co.client.DB().GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
		co.logger.Debug("branch status unavailable", "branch", branch, "error", err)
		return false
	}
	return n > 0
}

// CreateBranch forks a new branch from an existing one. An empty from forks
// the active branch.
func (co *Coordinator) CreateBranch(ctx context.Context, name, from string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	if from == "" {
		from = co.ActiveBranch()
	}

	exists, err := co.BranchExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return errors.New(errors.KindDuplicate,
			fmt.Sprintf("branch %q already exists", name)).
			WithDetail("branch", name)
	}
	fromExists, err := co.BranchExists(ctx, from)
	if err != nil {
		return err
	}
	if !fromExists {
		return errors.New(errors.KindNotFound,
			fmt.Sprintf("source branch %q does not exist", from)).
			WithDetail("branch", from)
	}

	if _, err := co.client.DB().ExecContext(ctx,
		"CALL DOLT_BRANCH(?, ?)", name, from); err != nil {
		return mapError(err, fmt.Sprintf("create branch %q", name))
	}
	co.logger.Info("branch created", "branch", name, "from", from)
	return nil
}

// Commit records any staged working-set changes on the active branch. With a
// clean working set it is a no-op that returns the current head.
func (co *Coordinator) Commit(ctx context.Context, message, actor string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New(errors.KindValidation, "commit message cannot be empty")
	}
	var hash string
	err := co.Active().Write(ctx, func(e Execer) error {
		var dirty bool
		if err := queryDirty(ctx, e, &dirty); err != nil {
			return err
		}
		if !dirty {
			head, err := headHash(ctx, e)
			if err != nil {
				return err
			}
			hash = head
			co.logger.Debug("nothing to commit", "head", head)
			return nil
		}
		h, err := commitAll(ctx, e, message, actor)
		if err != nil {
			return err
		}
		hash = h
		return nil
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

// MergeResult reports what a merge did.
type MergeResult struct {
	Hash        string `json:"hash"`
	FastForward bool   `json:"fast_forward"`
	Conflicts   int    `json:"conflicts"`
}

// Merge strategies.
const (
	// MergeThreeWay lets the backend produce a merge commit.
	MergeThreeWay = "three_way"
	// MergeFastForwardOnly fails instead of producing a merge commit.
	MergeFastForwardOnly = "fast_forward_or_fail"
)

// mergeCall maps a strategy to the DOLT_MERGE invocation that implements it.
func mergeCall(strategy string) (string, error) {
	switch strategy {
	case "", MergeThreeWay:
		return "CALL DOLT_MERGE(?)", nil
	case MergeFastForwardOnly:
		return "CALL DOLT_MERGE('--ff-only', ?)", nil
	}
	return "", errors.New(errors.KindValidation,
		fmt.Sprintf("unknown merge strategy %q", strategy)).
		WithDetail("strategy", strategy)
}

// Merge merges source into the active branch. Conflicts abort the merge and
// surface as CommitFailed with the conflict count; the working set is left
// clean either way.
func (co *Coordinator) Merge(ctx context.Context, source, strategy string) (*MergeResult, error) {
	call, err := mergeCall(strategy)
	if err != nil {
		return nil, err
	}

	exists, err := co.BranchExists(ctx, source)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.New(errors.KindNotFound,
			fmt.Sprintf("branch %q does not exist", source)).
			WithDetail("branch", source)
	}
	target := co.ActiveBranch()
	if source == target {
		return nil, errors.New(errors.KindValidation,
			"cannot merge a branch into itself").
			WithDetail("branch", source)
	}

	result := &MergeResult{}
	err = co.Active().Write(ctx, func(e Execer) error {
		row := e.QueryRowxContext(ctx, call, source)
		cols, scanErr := row.SliceScan()
		if scanErr != nil {
			// The server raises merge failures as plain errors; make sure
			// no half-merged state leaks into the working set.
			e.ExecContext(ctx, "CALL DOLT_MERGE('--abort')")
			return errors.Wrap(scanErr, errors.KindCommitFailed,
				fmt.Sprintf("merge of %q into %q failed", source, target)).
				WithDetail("source", source).
				WithDetail("target", target)
		}
		applyMergeRow(result, cols)
		if result.Conflicts > 0 {
			e.ExecContext(ctx, "CALL DOLT_MERGE('--abort')")
			return errors.New(errors.KindCommitFailed,
				fmt.Sprintf("merge of %q into %q hit %d conflicting table(s), merge aborted",
					source, target, result.Conflicts)).
				WithDetail("source", source).
				WithDetail("target", target).
				WithDetail("conflicts", result.Conflicts)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	co.logger.Info("merge complete",
		"source", source, "target", target,
		"hash", result.Hash, "fast_forward", result.FastForward)
	return result, nil
}

// applyMergeRow unpacks DOLT_MERGE's result row. Column order is
// (hash, fast_forward, conflicts[, message]) across Dolt releases.
func applyMergeRow(result *MergeResult, cols []any) {
	if len(cols) > 0 {
		result.Hash = asString(cols[0])
	}
	if len(cols) > 1 {
		result.FastForward = asInt(cols[1]) == 1
	}
	if len(cols) > 2 {
		result.Conflicts = asInt(cols[2])
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case []byte:
		if len(n) > 0 && n[0] >= '0' && n[0] <= '9' {
			out := 0
			for _, c := range n {
				if c < '0' || c > '9' {
					break
				}
				out = out*10 + int(c-'0')
			}
			return out
		}
	}
	return 0
}

// StatusEntry is one row of dolt_status.
type StatusEntry struct {
	TableName string `json:"table_name" db:"table_name"`
	Staged    bool   `json:"staged" db:"staged"`
	Status    string `json:"status" db:"status"`
}

// Status lists uncommitted table changes on the active branch.
func (co *Coordinator) Status(ctx context.Context) ([]StatusEntry, error) {
	var entries []StatusEntry
	err := co.Active().Read(ctx, func(e Execer) error {
		return e.SelectContext(ctx, &entries,
			"SELECT table_name, staged, status FROM dolt_status ORDER BY table_name")
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
