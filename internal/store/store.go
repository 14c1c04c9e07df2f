package store

import (
	"errors"

	"github.com/pigeon-im/pigeon/internal/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyArchived = errors.New("already archived")
	ErrAlreadyBlocked  = errors.New("already blocked")
)

type Store interface {
	// Profile operations
	CreateProfile(p *models.Profile) error
	GetProfileByEmail(email string) (*models.Profile, error)
	GetProfileByID(id string) (*models.Profile, error)
	GetProfilesByIDs(ids []string) ([]models.Profile, error)

	// Message operations
	InsertMessage(senderID, receiverID, content string) (*models.Message, error)
	MessagesBetween(a, b string) ([]models.Message, error)
	LatestMessageBetween(a, b string) (*models.Message, error)
	RecentCounterparts(userID string, limit int) ([]string, error)

	// Contact operations
	UpsertContact(ownerID, contactID string) error
	DeleteContact(ownerID, contactID string) error
	Contacts(ownerID string) ([]string, error)

	// Block operations
	Block(ownerID, blockedID string) error
	Unblock(ownerID, blockedID string) error
	BlockedIDs(ownerID string) ([]string, error)
	IsBlockedEither(a, b string) (bool, error)

	// Archive operations
	Archive(ownerID, peerID string) error
	Unarchive(ownerID, peerID string) error
	ArchivedIDs(ownerID string) ([]string, error)

	// Audit log
	AppendAudit(e models.AuditEntry) error
}
