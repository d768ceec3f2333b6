// Package project manages project membership: the live in-memory registry
// of active projects and a durable store backing cross-project resolution.
package project

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// Errors.
var (
	// ErrProjectNotFound indicates the requested project is not registered.
	ErrProjectNotFound = errors.New("project: not found")
	// ErrAgentNotFound indicates no agent with the given slug exists in the project.
	ErrAgentNotFound = errors.New("project: agent not found")
)

// Project is one workspace of collaborating agents.
type Project struct {
	ID    string              `json:"id"`
	Name  string              `json:"name"`
	Owner types.AgentIdentity `json:"owner"`

	// EscalationAgentSlug optionally names a proxy agent that questions
	// are routed through before reaching the owner. Empty means route
	// directly.
	EscalationAgentSlug string `json:"escalation_agent_slug,omitempty"`

	mu      sync.RWMutex
	members map[string]types.AgentIdentity // pubkey -> identity
}

// NewProject creates a project with the owner as its first member.
func NewProject(id, name string, owner types.AgentIdentity) *Project {
	p := &Project{
		ID:      id,
		Name:    name,
		Owner:   owner,
		members: make(map[string]types.AgentIdentity),
	}
	p.members[owner.Pubkey] = owner
	return p
}

// IsMember reports whether the pubkey belongs to the project.
func (p *Project) IsMember(pubkey string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.members[pubkey]
	return ok
}

// AddMember registers an agent as a project member. Idempotent.
func (p *Project) AddMember(agent types.AgentIdentity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members[agent.Pubkey] = agent
}

// AgentBySlug returns the member with the given slug.
func (p *Project) AgentBySlug(slug string) (types.AgentIdentity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, a := range p.members {
		if a.Slug == slug {
			return a, true
		}
	}
	return types.AgentIdentity{}, false
}

// Members returns a snapshot of all members.
func (p *Project) Members() []types.AgentIdentity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.AgentIdentity, 0, len(p.members))
	for _, a := range p.members {
		out = append(out, a)
	}
	return out
}

// Registry is the live in-memory table of currently active projects.
type Registry struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewRegistry creates an empty project registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:   logger.With(zap.String("component", "project_registry")),
		projects: make(map[string]*Project),
	}
}

// Register adds a project to the live registry.
func (r *Registry) Register(p *Project) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[p.ID] = p
	r.logger.Info("project registered",
		zap.String("project_id", p.ID),
		zap.String("name", p.Name),
		zap.Int("members", len(p.members)),
	)
}

// Get returns a live project by id.
func (r *Registry) Get(id string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	return p, ok
}
