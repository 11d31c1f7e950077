// services/presence.go - Presence Directory
package services

import (
	"sync"
	"time"

	"quizdash/logger"
)

const (
	// presenceTTL is how long an entry survives without a heartbeat.
	presenceTTL = 30 * time.Second
	// presenceSweepInterval is the janitor cadence.
	presenceSweepInterval = 10 * time.Second
)

// PresenceEntry is one reachable user. Ephemeral, never persisted; may be
// stale by up to one heartbeat interval.
type PresenceEntry struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceDirectory tracks which users are currently reachable for direct
// challenges. Best-effort only: it gates which direct challenges are offered,
// never the correctness of a battle.
type PresenceDirectory struct {
	mu      sync.RWMutex
	entries map[string]*PresenceEntry
	broker  *Broker
	ttl     time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	now      func() time.Time
}

func NewPresenceDirectory(broker *Broker) *PresenceDirectory {
	return &PresenceDirectory{
		entries: make(map[string]*PresenceEntry),
		broker:  broker,
		ttl:     presenceTTL,
		stop:    make(chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the janitor that drops entries whose heartbeats stopped.
func (d *PresenceDirectory) Start() {
	go func() {
		ticker := time.NewTicker(presenceSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.sweep()
			case <-d.stop:
				return
			}
		}
	}()
	logger.Info("presence directory started", "ttl", d.ttl.String())
}

// Stop terminates the janitor.
func (d *PresenceDirectory) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// Heartbeat registers or refreshes a user's entry. A new entry publishes a
// presence delta on the shared topic.
func (d *PresenceDirectory) Heartbeat(userID, username string) {
	if userID == "" {
		return
	}

	d.mu.Lock()
	entry, known := d.entries[userID]
	if known {
		entry.LastSeen = d.now()
		if username != "" {
			entry.Username = username
		}
		d.mu.Unlock()
		return
	}
	d.entries[userID] = &PresenceEntry{
		UserID:   userID,
		Username: username,
		LastSeen: d.now(),
	}
	d.mu.Unlock()

	d.broker.Publish(TopicPresence, "presence_joined", map[string]interface{}{
		"user_id":  userID,
		"username": username,
	})
}

// Leave removes a user's entry and publishes a removal delta.
func (d *PresenceDirectory) Leave(userID string) {
	d.mu.Lock()
	_, known := d.entries[userID]
	delete(d.entries, userID)
	d.mu.Unlock()

	if known {
		d.broker.Publish(TopicPresence, "presence_left", map[string]interface{}{
			"user_id": userID,
		})
	}
}

// IsPresent reports whether a user currently has a live, unexpired entry.
func (d *PresenceDirectory) IsPresent(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[userID]
	return ok && d.now().Sub(entry.LastSeen) < d.ttl
}

// List returns the current snapshot, excluding entries already past the TTL
// that the janitor has not collected yet.
func (d *PresenceDirectory) List() []PresenceEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := make([]PresenceEntry, 0, len(d.entries))
	for _, entry := range d.entries {
		if d.now().Sub(entry.LastSeen) < d.ttl {
			list = append(list, *entry)
		}
	}
	return list
}

func (d *PresenceDirectory) sweep() {
	cutoff := d.now().Add(-d.ttl)

	d.mu.Lock()
	var expired []string
	for id, entry := range d.entries {
		if entry.LastSeen.Before(cutoff) {
			expired = append(expired, id)
			delete(d.entries, id)
		}
	}
	d.mu.Unlock()

	for _, id := range expired {
		d.broker.Publish(TopicPresence, "presence_left", map[string]interface{}{
			"user_id": id,
		})
	}
	if len(expired) > 0 {
		logger.Debug("presence sweep collected entries", "count", len(expired))
	}
}
