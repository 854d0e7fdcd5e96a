package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"chronicle/collab/internal/suggestion"
)

var (
	bucketSuggestions = []byte("suggestions")
	bucketOrder       = []byte("suggestion_order")
	bucketMembers     = []byte("document_members")
)

// ErrNoMembership is returned by BoltStore.DocumentRole when no role is
// stored for the pair.
var ErrNoMembership = errors.New("no document membership")

// BoltStore persists suggestions in a single bbolt file for single-node
// deployments. Per-document insertion order is kept in a nested bucket keyed
// by a big-endian sequence.
type BoltStore struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSuggestions, bucketOrder, bucketMembers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) InsertSuggestion(_ context.Context, edit suggestion.Edit) error {
	payload, err := json.Marshal(edit)
	if err != nil {
		return fmt.Errorf("marshal suggestion: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		items := tx.Bucket(bucketSuggestions)
		if items.Get([]byte(edit.ID)) != nil {
			return suggestion.ErrDuplicate
		}
		order, err := tx.Bucket(bucketOrder).CreateBucketIfNotExists([]byte(edit.DocumentID))
		if err != nil {
			return fmt.Errorf("create order bucket: %w", err)
		}
		seq, err := order.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		if err := order.Put(sequenceKey(seq), []byte(edit.ID)); err != nil {
			return fmt.Errorf("insert suggestion order: %w", err)
		}
		if err := items.Put([]byte(edit.ID), payload); err != nil {
			return fmt.Errorf("insert suggestion: %w", err)
		}
		return nil
	})
}

func (s *BoltStore) GetSuggestion(_ context.Context, documentID, suggestionID string) (suggestion.Edit, error) {
	var item suggestion.Edit
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		item, err = loadSuggestion(tx.Bucket(bucketSuggestions), documentID, suggestionID)
		return err
	})
	return item, err
}

func (s *BoltStore) ListSuggestions(_ context.Context, documentID string) ([]suggestion.Edit, error) {
	items := make([]suggestion.Edit, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		order := tx.Bucket(bucketOrder).Bucket([]byte(documentID))
		if order == nil {
			return nil
		}
		records := tx.Bucket(bucketSuggestions)
		return order.ForEach(func(_, id []byte) error {
			item, err := loadSuggestion(records, documentID, string(id))
			if err != nil {
				return err
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	return items, nil
}

func (s *BoltStore) ReviewSuggestion(_ context.Context, documentID, suggestionID string, review suggestion.Review) (bool, error) {
	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketSuggestions)
		item, err := loadSuggestion(records, documentID, suggestionID)
		if errors.Is(err, suggestion.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if item.Status != suggestion.StatusPending {
			return nil
		}
		reviewedAt := review.ReviewedAt.UTC()
		item.Status = review.Status
		item.ReviewerID = review.ReviewerID
		item.Reason = review.Reason
		item.ReviewedAt = &reviewedAt
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal suggestion: %w", err)
		}
		if err := records.Put([]byte(suggestionID), payload); err != nil {
			return fmt.Errorf("update suggestion: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("review suggestion: %w", err)
	}
	return changed, nil
}

func (s *BoltStore) DocumentRole(_ context.Context, documentID, userID string) (string, error) {
	var role string
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketMembers).Get(memberKey(documentID, userID))
		if value == nil {
			return ErrNoMembership
		}
		role = string(value)
		return nil
	})
	return role, err
}

func (s *BoltStore) SetDocumentRole(_ context.Context, documentID, userID, role string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMembers).Put(memberKey(documentID, userID), []byte(role))
	})
}

func (s *BoltStore) Ping(context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func loadSuggestion(records *bolt.Bucket, documentID, suggestionID string) (suggestion.Edit, error) {
	raw := records.Get([]byte(suggestionID))
	if raw == nil {
		return suggestion.Edit{}, suggestion.ErrNotFound
	}
	var item suggestion.Edit
	if err := json.Unmarshal(raw, &item); err != nil {
		return suggestion.Edit{}, fmt.Errorf("decode suggestion %s: %w", suggestionID, err)
	}
	if item.DocumentID != documentID {
		return suggestion.Edit{}, suggestion.ErrNotFound
	}
	return item, nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func memberKey(documentID, userID string) []byte {
	return []byte(documentID + "\x00" + userID)
}
