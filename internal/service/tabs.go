package service

import (
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

// TabRegistry maps open tabs to the role they announced.
// All methods are thread-safe.
type TabRegistry struct {
	mu        sync.RWMutex
	tabs      map[models.TabID]models.TabRegistration
	assistant models.TabID
}

// NewTabRegistry creates an empty registry.
func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[models.TabID]models.TabRegistration)}
}

// Register stores or overwrites the mapping for tab. An ASSISTANT
// registration supersedes the previous assistant pointer.
func (r *TabRegistry) Register(tab models.TabID, role models.Role, platform models.Platform) bool {
	if tab == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tabs[tab] = models.TabRegistration{
		TabID:        tab,
		Role:         role,
		Platform:     platform,
		RegisteredAt: time.Now(),
	}
	if role == models.RoleAssistant {
		r.assistant = tab
	} else if r.assistant == tab {
		// the assistant tab navigated elsewhere
		r.assistant = ""
	}
	return true
}

// Remove deletes the mapping and clears the assistant pointer if it named tab.
func (r *TabRegistry) Remove(tab models.TabID) (models.TabRegistration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.tabs[tab]
	delete(r.tabs, tab)
	if r.assistant == tab {
		r.assistant = ""
	}
	return reg, ok
}

// Get returns the registration for tab.
func (r *TabRegistry) Get(tab models.TabID) (models.TabRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tabs[tab]
	return reg, ok
}

// AssistantTab returns the current assistant registration.
func (r *TabRegistry) AssistantTab() (models.TabRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.assistant == "" {
		return models.TabRegistration{}, false
	}
	reg, ok := r.tabs[r.assistant]
	return reg, ok
}

// List returns all registrations ordered by registration time.
func (r *TabRegistry) List() []models.TabRegistration {
	r.mu.RLock()
	out := make([]models.TabRegistration, 0, len(r.tabs))
	for _, reg := range r.tabs {
		out = append(out, reg)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].TabID < out[j].TabID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}
