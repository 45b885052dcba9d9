// Channel manager - starts and stops delivery channels
package channels

import (
	"fmt"
	"log"
	"sync"

	"github.com/gliderlab/crew/gateway/channels/types"
)

// Manager holds the active channels
type Manager struct {
	mu       sync.RWMutex
	channels map[types.ChannelType]types.ChannelLoader
}

func NewManager() *Manager {
	return &Manager{
		channels: make(map[types.ChannelType]types.ChannelLoader),
	}
}

// Register adds a channel. Registering the same type twice replaces
// the earlier instance.
func (m *Manager) Register(ch types.ChannelLoader) {
	info := ch.ChannelInfo()
	m.mu.Lock()
	m.channels[info.Type] = ch
	m.mu.Unlock()
	log.Printf("[OK] channel registered: %s (%s)", info.Name, info.Type)
}

// Get returns a channel by type
func (m *Manager) Get(t types.ChannelType) (types.ChannelLoader, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[t]
	return ch, ok
}

// StartAll starts every registered channel; the first error aborts
func (m *Manager) StartAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for t, ch := range m.channels {
		if err := ch.Start(); err != nil {
			return fmt.Errorf("start channel %s: %w", t, err)
		}
	}
	return nil
}

// StopAll stops every registered channel, logging failures
func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for t, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			log.Printf("[WARN] stop channel %s: %v", t, err)
		}
	}
}

// List returns info for all registered channels
func (m *Manager) List() []types.ChannelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]types.ChannelInfo, 0, len(m.channels))
	for _, ch := range m.channels {
		infos = append(infos, ch.ChannelInfo())
	}
	return infos
}
