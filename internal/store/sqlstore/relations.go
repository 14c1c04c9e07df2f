package sqlstore

import (
	"github.com/pigeon-im/pigeon/internal/models"
	"github.com/pigeon-im/pigeon/internal/store"
)

func (s *SQLStore) UpsertContact(ownerID, contactID string) error {
	query := s.rebind("INSERT INTO contacts (owner_id, contact_id) VALUES (?, ?) ON CONFLICT (owner_id, contact_id) DO NOTHING")
	_, err := s.db.Exec(query, ownerID, contactID)
	return err
}

func (s *SQLStore) DeleteContact(ownerID, contactID string) error {
	query := s.rebind("DELETE FROM contacts WHERE owner_id = ? AND contact_id = ?")
	_, err := s.db.Exec(query, ownerID, contactID)
	return err
}

func (s *SQLStore) Contacts(ownerID string) ([]string, error) {
	query := s.rebind("SELECT contact_id FROM contacts WHERE owner_id = ? ORDER BY created_at ASC")
	return s.queryIDs(query, ownerID)
}

func (s *SQLStore) Block(ownerID, blockedID string) error {
	exists, err := s.rowExists("SELECT EXISTS(SELECT 1 FROM blocked_users WHERE owner_id = ? AND blocked_id = ?)", ownerID, blockedID)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrAlreadyBlocked
	}
	query := s.rebind("INSERT INTO blocked_users (owner_id, blocked_id) VALUES (?, ?)")
	_, err = s.db.Exec(query, ownerID, blockedID)
	return err
}

func (s *SQLStore) Unblock(ownerID, blockedID string) error {
	query := s.rebind("DELETE FROM blocked_users WHERE owner_id = ? AND blocked_id = ?")
	_, err := s.db.Exec(query, ownerID, blockedID)
	return err
}

func (s *SQLStore) BlockedIDs(ownerID string) ([]string, error) {
	query := s.rebind("SELECT blocked_id FROM blocked_users WHERE owner_id = ?")
	return s.queryIDs(query, ownerID)
}

// IsBlockedEither reports whether either side of a pair has blocked the other.
func (s *SQLStore) IsBlockedEither(a, b string) (bool, error) {
	return s.rowExists(`SELECT EXISTS(SELECT 1 FROM blocked_users
		WHERE (owner_id = ? AND blocked_id = ?) OR (owner_id = ? AND blocked_id = ?))`, a, b, b, a)
}

func (s *SQLStore) Archive(ownerID, peerID string) error {
	exists, err := s.rowExists("SELECT EXISTS(SELECT 1 FROM archived_chats WHERE owner_id = ? AND peer_id = ?)", ownerID, peerID)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrAlreadyArchived
	}
	query := s.rebind("INSERT INTO archived_chats (owner_id, peer_id) VALUES (?, ?)")
	_, err = s.db.Exec(query, ownerID, peerID)
	return err
}

func (s *SQLStore) Unarchive(ownerID, peerID string) error {
	query := s.rebind("DELETE FROM archived_chats WHERE owner_id = ? AND peer_id = ?")
	_, err := s.db.Exec(query, ownerID, peerID)
	return err
}

func (s *SQLStore) ArchivedIDs(ownerID string) ([]string, error) {
	query := s.rebind("SELECT peer_id FROM archived_chats WHERE owner_id = ?")
	return s.queryIDs(query, ownerID)
}

func (s *SQLStore) AppendAudit(e models.AuditEntry) error {
	query := s.rebind("INSERT INTO audit_log (actor_id, action, subject_id, detail) VALUES (?, ?, ?, ?)")
	_, err := s.db.Exec(query, e.ActorID, e.Action, e.SubjectID, e.Detail)
	return err
}

func (s *SQLStore) rowExists(query string, args ...interface{}) (bool, error) {
	var exists bool
	err := s.db.QueryRow(s.rebind(query), args...).Scan(&exists)
	return exists, err
}

func (s *SQLStore) queryIDs(query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
