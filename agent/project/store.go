package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentmesh/types"
)

// AgentRecord is the durable row for a known agent.
type AgentRecord struct {
	Pubkey      string `gorm:"primaryKey"`
	Slug        string `gorm:"index"`
	DisplayName string
}

// ProjectRecord is the durable row for a project.
type ProjectRecord struct {
	ID                  string `gorm:"primaryKey"`
	Name                string
	OwnerPubkey         string
	EscalationAgentSlug string
}

// MembershipRecord links an agent to a project.
type MembershipRecord struct {
	ProjectID   string `gorm:"primaryKey"`
	AgentPubkey string `gorm:"primaryKey"`
}

// Store is the durable project/agent store. It backs cross-project
// recipient resolution for projects that are not currently active, and the
// escalation resolver's auto-registration of known agents.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) a sqlite-backed store at path. Use
// ":memory:" for tests.
func NewSQLiteStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open project store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&AgentRecord{}, &ProjectRecord{}, &MembershipRecord{}); err != nil {
		return nil, fmt.Errorf("migrate project store: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "project_store")),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveAgent upserts an agent record.
func (s *Store) SaveAgent(ctx context.Context, agent types.AgentIdentity, displayName string) error {
	rec := AgentRecord{Pubkey: agent.Pubkey, Slug: agent.Slug, DisplayName: displayName}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// AgentBySlug returns a known agent by slug, or false.
func (s *Store) AgentBySlug(ctx context.Context, slug string) (types.AgentIdentity, bool, error) {
	var rec AgentRecord
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.AgentIdentity{}, false, nil
	}
	if err != nil {
		return types.AgentIdentity{}, false, fmt.Errorf("agent by slug %s: %w", slug, err)
	}
	return types.AgentIdentity{Pubkey: rec.Pubkey, Slug: rec.Slug}, true, nil
}

// SaveProject upserts a project record.
func (s *Store) SaveProject(ctx context.Context, p *Project) error {
	rec := ProjectRecord{
		ID:                  p.ID,
		Name:                p.Name,
		OwnerPubkey:         p.Owner.Pubkey,
		EscalationAgentSlug: p.EscalationAgentSlug,
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// ProjectByID loads a project and its membership from durable storage.
func (s *Store) ProjectByID(ctx context.Context, id string) (*Project, error) {
	var rec ProjectRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("project by id %s: %w", id, err)
	}

	var ownerRec AgentRecord
	owner := types.AgentIdentity{Pubkey: rec.OwnerPubkey}
	if err := s.db.WithContext(ctx).First(&ownerRec, "pubkey = ?", rec.OwnerPubkey).Error; err == nil {
		owner.Slug = ownerRec.Slug
	}

	p := NewProject(rec.ID, rec.Name, owner)
	p.EscalationAgentSlug = rec.EscalationAgentSlug

	var memberships []MembershipRecord
	if err := s.db.WithContext(ctx).Where("project_id = ?", id).Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("memberships of %s: %w", id, err)
	}
	for _, m := range memberships {
		var agentRec AgentRecord
		identity := types.AgentIdentity{Pubkey: m.AgentPubkey}
		if err := s.db.WithContext(ctx).First(&agentRec, "pubkey = ?", m.AgentPubkey).Error; err == nil {
			identity.Slug = agentRec.Slug
		}
		p.AddMember(identity)
	}
	return p, nil
}

// AddMember durably links an agent to a project. Idempotent.
func (s *Store) AddMember(ctx context.Context, projectID string, agent types.AgentIdentity) error {
	rec := MembershipRecord{ProjectID: projectID, AgentPubkey: agent.Pubkey}
	err := s.db.WithContext(ctx).
		Where(&rec).
		FirstOrCreate(&rec).Error
	if err != nil {
		return fmt.Errorf("add member %s to %s: %w", agent.Pubkey, projectID, err)
	}
	s.logger.Debug("member added",
		zap.String("project_id", projectID),
		zap.String("agent", agent.String()),
	)
	return nil
}

// IsMember reports whether the agent durably belongs to the project.
func (s *Store) IsMember(ctx context.Context, projectID, pubkey string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&MembershipRecord{}).
		Where("project_id = ? AND agent_pubkey = ?", projectID, pubkey).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
