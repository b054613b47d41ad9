package index

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket layout: collection -> branch -> {vectors, seen}. Vectors map block
// id to a VectorRecord; seen maps commit hashes the index has absorbed.
var (
	vectorsBucket = []byte("vectors")
	seenBucket    = []byte("seen")
)

// VectorRecord is one indexed block.
type VectorRecord struct {
	ID         string    `json:"id"`
	Namespace  string    `json:"namespace"`
	Type       string    `json:"type"`
	Tags       []string  `json:"tags,omitempty"`
	Snippet    string    `json:"snippet,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CommitHash string    `json:"commit_hash,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// VectorStore persists vectors per branch in a single local file.
type VectorStore struct {
	db         *bolt.DB
	collection []byte
}

// OpenVectorStore opens (creating if needed) the store file. The parent
// directory is created on demand.
func OpenVectorStore(path, collection string) (*VectorStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open vector store %s: %w", path, err)
	}
	return &VectorStore{db: db, collection: []byte(collection)}, nil
}

func (s *VectorStore) Close() error { return s.db.Close() }

// Path returns the backing file path.
func (s *VectorStore) Path() string { return s.db.Path() }

func (s *VectorStore) branchBucket(tx *bolt.Tx, branch string, create bool) (*bolt.Bucket, error) {
	if create {
		root, err := tx.CreateBucketIfNotExists(s.collection)
		if err != nil {
			return nil, err
		}
		return root.CreateBucketIfNotExists([]byte(branch))
	}
	root := tx.Bucket(s.collection)
	if root == nil {
		return nil, nil
	}
	return root.Bucket([]byte(branch)), nil
}

// Put stores or replaces one record.
func (s *VectorStore) Put(branch string, rec VectorRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bb, err := s.branchBucket(tx, branch, true)
		if err != nil {
			return err
		}
		vectors, err := bb.CreateBucketIfNotExists(vectorsBucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return vectors.Put([]byte(rec.ID), data)
	})
}

// Get loads one record; ok is false when the id is not indexed.
func (s *VectorStore) Get(branch, id string) (VectorRecord, bool, error) {
	var rec VectorRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		bb, err := s.branchBucket(tx, branch, false)
		if err != nil || bb == nil {
			return err
		}
		vectors := bb.Bucket(vectorsBucket)
		if vectors == nil {
			return nil
		}
		data := vectors.Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

// Delete removes one record. Deleting an unindexed id is a no-op.
func (s *VectorStore) Delete(branch, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bb, err := s.branchBucket(tx, branch, false)
		if err != nil || bb == nil {
			return err
		}
		vectors := bb.Bucket(vectorsBucket)
		if vectors == nil {
			return nil
		}
		return vectors.Delete([]byte(id))
	})
}

// ForEach visits each record of a branch.
func (s *VectorStore) ForEach(branch string, fn func(VectorRecord) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bb, err := s.branchBucket(tx, branch, false)
		if err != nil || bb == nil {
			return err
		}
		vectors := bb.Bucket(vectorsBucket)
		if vectors == nil {
			return nil
		}
		return vectors.ForEach(func(_, data []byte) error {
			var rec VectorRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			return fn(rec)
		})
	})
}

// Count returns the number of records indexed for a branch.
func (s *VectorStore) Count(branch string) (int, error) {
	n := 0
	err := s.ForEach(branch, func(VectorRecord) error {
		n++
		return nil
	})
	return n, err
}

// DropBranch clears everything indexed for a branch. Used by rebuild.
func (s *VectorStore) DropBranch(branch string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(s.collection)
		if root == nil {
			return nil
		}
		if root.Bucket([]byte(branch)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(branch))
	})
}

// MarkSeen records commit hashes the index has absorbed for a branch.
func (s *VectorStore) MarkSeen(branch string, hashes ...string) error {
	if len(hashes) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bb, err := s.branchBucket(tx, branch, true)
		if err != nil {
			return err
		}
		seen, err := bb.CreateBucketIfNotExists(seenBucket)
		if err != nil {
			return err
		}
		for _, h := range hashes {
			if h == "" {
				continue
			}
			if err := seen.Put([]byte(h), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Seen reports whether a commit hash has been absorbed.
func (s *VectorStore) Seen(branch, hash string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		bb, err := s.branchBucket(tx, branch, false)
		if err != nil || bb == nil {
			return err
		}
		seen := bb.Bucket(seenBucket)
		if seen == nil {
			return nil
		}
		found = seen.Get([]byte(hash)) != nil
		return nil
	})
	return found, err
}

// scored pairs a record with its query similarity.
type scored struct {
	rec   VectorRecord
	score float64
}

// search scans a branch and returns the k nearest records by cosine
// similarity, best first. filter may be nil.
func (s *VectorStore) search(branch string, query []float32, k int, filter func(VectorRecord) bool) ([]scored, error) {
	var hits []scored
	err := s.ForEach(branch, func(rec VectorRecord) error {
		if len(rec.Embedding) == 0 {
			return nil
		}
		if filter != nil && !filter(rec) {
			return nil
		}
		hits = append(hits, scored{rec: rec, score: cosine(query, rec.Embedding)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rec.ID < hits[j].rec.ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// cosine computes cosine similarity; mismatched or zero vectors score 0.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
