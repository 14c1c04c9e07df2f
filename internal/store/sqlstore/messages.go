package sqlstore

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pigeon-im/pigeon/internal/models"
)

// InsertMessage assigns the message id and timestamp server-side and returns
// the stored row. UUIDv7 ids sort by creation time, which keeps "order by id"
// and "order by created_at" consistent.
func (s *SQLStore) InsertMessage(senderID, receiverID, content string) (*models.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:         id.String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}

	query := s.rebind("INSERT INTO messages (id, sender_id, receiver_id, content, created_at) VALUES (?, ?, ?, ?, ?)")
	if _, err := s.db.Exec(query, msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.CreatedAt); err != nil {
		return nil, err
	}
	return msg, nil
}

// MessagesBetween returns the full history for a pair, both directions,
// ascending by creation time.
func (s *SQLStore) MessagesBetween(a, b string) ([]models.Message, error) {
	query := s.rebind(`SELECT id, sender_id, receiver_id, content, created_at FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC`)

	rows, err := s.db.Query(query, a, b, b, a)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LatestMessageBetween returns the single most recent message for a pair, or
// nil when the pair has never exchanged one.
func (s *SQLStore) LatestMessageBetween(a, b string) (*models.Message, error) {
	query := s.rebind(`SELECT id, sender_id, receiver_id, content, created_at FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at DESC LIMIT 1`)

	var m models.Message
	err := s.db.QueryRow(query, a, b, b, a).Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// RecentCounterparts returns the distinct peers appearing in the user's most
// recent messages. The scan is bounded by limit so cost stays flat no matter
// how long the history grows.
func (s *SQLStore) RecentCounterparts(userID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}

	query := s.rebind(`SELECT DISTINCT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END FROM (
		SELECT sender_id, receiver_id FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY created_at DESC LIMIT ?
	) recent`)

	rows, err := s.db.Query(query, userID, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		peers = append(peers, id)
	}
	return peers, rows.Err()
}
