package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	bolt "go.etcd.io/bbolt"

	"github.com/parley-chat/parley/internal/models"
)

// BoltDB implements the Store interface using a BoltDB backend for persistent
// storage of sessions, groups, messages, and drafts. It provides atomic
// operations through a key-value storage model: one bucket each for sessions,
// groups, and drafts, plus one message bucket per session.
type BoltDB struct {
	db *bolt.DB
}

const (
	sessionsBucket = "sessions"
	groupsBucket   = "groups"
	draftsBucket   = "drafts"
)

// NewBoltDB creates a new BoltDB instance with the specified file path. It
// initializes the database with required buckets and returns an error if the
// database cannot be opened or initialized. The database file is created with
// 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{sessionsBucket, groupsBucket, draftsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})

	return BoltDB{db: db}, err
}

// Close releases the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(sessionID string) []byte {
	return []byte(fmt.Sprintf("session-%s", sessionID))
}

// messageKey orders messages within a bucket. Zero-padding keeps byte order
// equal to insertion order past single digits.
func messageKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

// Sessions retrieves all stored session records in reverse chronological
// order.
func (b BoltDB) Sessions(context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(sessionsBucket))
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var session models.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
			sessions = append(sessions, session)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(sessions)
	return sessions, nil
}

// Session retrieves one session record by id. A missing session returns the
// zero value with no error, matching the silent-ignore behavior of updates.
func (b BoltDB) Session(_ context.Context, sessionID string) (models.Session, error) {
	var session models.Session
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(sessionsBucket))
		if bkt == nil {
			return nil
		}

		v := bkt.Get([]byte(sessionID))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &session)
	})
	return session, err
}

// AddSession stores a new session record and creates its message bucket. It
// generates a unique ID for the session by combining a sequence number with
// the session's original ID, and returns the new ID.
func (b BoltDB) AddSession(_ context.Context, session models.Session) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(sessionsBucket))
		if bkt == nil {
			return nil
		}

		idPrefix, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%d-%s", idPrefix, session.ID)
		session.ID = newID

		_, err = tx.CreateBucketIfNotExists(messageBucketName(session.ID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		return bkt.Put([]byte(newID), v)
	})

	return newID, err
}

// UpdateSession modifies an existing session record. If the session doesn't
// exist, the operation is silently ignored.
func (b BoltDB) UpdateSession(_ context.Context, session models.Session) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(sessionsBucket))
		if bkt == nil {
			return nil
		}

		v := bkt.Get([]byte(session.ID))
		if v == nil {
			return nil
		}

		v, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		return bkt.Put([]byte(session.ID), v)
	})
}

// Groups retrieves all stored group records in reverse chronological order.
func (b BoltDB) Groups(context.Context) ([]models.Group, error) {
	var groups []models.Group
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(groupsBucket))
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var group models.Group
			if err := json.Unmarshal(v, &group); err != nil {
				return fmt.Errorf("failed to unmarshal group: %w", err)
			}
			groups = append(groups, group)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(groups)
	return groups, nil
}

// AddGroup stores a new group record, generating its unique ID the same way
// AddSession does.
func (b BoltDB) AddGroup(_ context.Context, group models.Group) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(groupsBucket))
		if bkt == nil {
			return nil
		}

		idPrefix, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%d-%s", idPrefix, group.ID)
		group.ID = newID

		v, err := json.Marshal(group)
		if err != nil {
			return fmt.Errorf("failed to marshal group: %w", err)
		}

		return bkt.Put([]byte(newID), v)
	})

	return newID, err
}

// UpdateGroup modifies an existing group record. If the group doesn't exist,
// the operation is silently ignored.
func (b BoltDB) UpdateGroup(_ context.Context, group models.Group) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(groupsBucket))
		if bkt == nil {
			return nil
		}

		v := bkt.Get([]byte(group.ID))
		if v == nil {
			return nil
		}

		v, err := json.Marshal(group)
		if err != nil {
			return fmt.Errorf("failed to marshal group: %w", err)
		}

		return bkt.Put([]byte(group.ID), v)
	})
}

// GroupSessionIDs returns the ordered session ids belonging to the given
// group, or nil if the group doesn't exist.
func (b BoltDB) GroupSessionIDs(_ context.Context, groupID string) ([]string, error) {
	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(groupsBucket))
		if bkt == nil {
			return nil
		}

		v := bkt.Get([]byte(groupID))
		if v == nil {
			return nil
		}

		var group models.Group
		if err := json.Unmarshal(v, &group); err != nil {
			return fmt.Errorf("failed to unmarshal group: %w", err)
		}
		ids = group.SessionIDs
		return nil
	})
	return ids, err
}

// Messages retrieves all messages associated with the specified session ID in
// their stored order.
func (b BoltDB) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(sessionID))
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends a message to the session's message bucket. The message
// ID is left untouched because grouped sessions carry batch identity inside
// it; ordering comes from the bucket key instead.
func (b BoltDB) AddMessage(_ context.Context, sessionID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(messageBucketName(sessionID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		seq, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put(messageKey(seq), v)
	})
}

// UpdateMessage modifies the stored message with the same ID, keeping its
// position. If the message doesn't exist, the operation is silently ignored.
func (b BoltDB) UpdateMessage(_ context.Context, sessionID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(sessionID))
		if bkt == nil {
			return nil
		}

		var foundKey []byte
		err := bkt.ForEach(func(k, v []byte) error {
			var stored models.Message
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			if stored.ID == message.ID {
				foundKey = slices.Clone(k)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if foundKey == nil {
			return nil
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put(foundKey, v)
	})
}

// ReplaceMessages atomically rewrites the session's whole message list. Used
// for resend truncation, batch deletes, and undo restores, where positions
// shift and a per-message update cannot express the change.
func (b BoltDB) ReplaceMessages(_ context.Context, sessionID string, messages []models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		name := messageBucketName(sessionID)
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to delete message bucket: %w", err)
			}
		}

		bkt, err := tx.CreateBucket(name)
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		for _, message := range messages {
			seq, err := bkt.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to get next sequence: %w", err)
			}

			v, err := json.Marshal(message)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}

			if err := bkt.Put(messageKey(seq), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Draft retrieves the persisted draft for the given session, or the empty
// draft if none exists.
func (b BoltDB) Draft(sessionID string) (models.Draft, error) {
	var draft models.Draft
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(draftsBucket))
		if bkt == nil {
			return nil
		}

		v := bkt.Get([]byte(sessionID))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &draft)
	})
	if err != nil {
		return models.Draft{}, fmt.Errorf("failed to load draft: %w", err)
	}
	return draft, nil
}

// PutDraft overwrites the persisted draft for the given session.
func (b BoltDB) PutDraft(sessionID string, draft models.Draft) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(draftsBucket))
		if bkt == nil {
			return nil
		}

		v, err := json.Marshal(draft)
		if err != nil {
			return fmt.Errorf("failed to marshal draft: %w", err)
		}

		return bkt.Put([]byte(sessionID), v)
	})
}
