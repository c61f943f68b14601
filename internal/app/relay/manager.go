/*
Package relay implements the development signaling relay the chat client talks to.

This file defines the Manager struct, which creates rooms on first use, tracks them by
name and removes them once their Run loop has exited.
*/
package relay

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sigchat/internal/pkg/logx"
)

// DefaultRoom is the room used when a connection does not name one.
const DefaultRoom = "lobby"

// Manager struct is responsible for coordinating and managing all active rooms.
type Manager struct {
	// rooms stores a map of all Room instances, keyed by name.
	rooms map[string]*Room

	// capacity and inactivity timeout applied to new rooms.
	maxClients int
	inactivity time.Duration

	// mu protects concurrent access to the rooms map.
	mu sync.RWMutex

	// the channel used by Rooms to notify the Manager to clean up and remove them.
	cleanup chan RoomCleanupMsg

	// done is closed once every Run loop has exited; it stops the cleanup loop.
	done chan struct{}

	// closed is set by Shutdown; later rooms are handed out already stopped.
	closed bool

	// roomsWG tracks running Room.Run loops.
	roomsWG sync.WaitGroup

	// wg is used to wait for the runCleanupLoop goroutine to finish during shutdown.
	wg sync.WaitGroup

	// structured logger with Manager context.
	logger zerolog.Logger
}

// NewManager constructs and returns a new Manager instance.
func NewManager(maxClients int, inactivity time.Duration) *Manager {
	m := &Manager{
		rooms:      make(map[string]*Room),
		maxClients: maxClients,
		inactivity: inactivity,
		cleanup:    make(chan RoomCleanupMsg, 10),
		done:       make(chan struct{}),
		logger:     logx.Logger().With().Str("component", "relay").Logger(),
	}

	m.wg.Add(1)
	go m.runCleanupLoop()

	return m
}

// runCleanupLoop removes rooms as their Run loops report that they have exited.
func (m *Manager) runCleanupLoop() {
	defer m.wg.Done()

	m.logger.Info().Msg("Cleanup loop started.")

	for {
		select {
		case msg := <-m.cleanup:
			m.deleteRoom(msg.RoomName)
		case <-m.done:
			m.logger.Info().Msg("Cleanup loop stopped.")
			return
		}
	}
}

// deleteRoom removes the named room if it has stopped. A newer room with the same name is kept.
func (m *Manager) deleteRoom(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[name]
	if !ok {
		return
	}

	select {
	case <-room.stopChan:
		delete(m.rooms, name)
		m.logger.Info().Str("room", name).Msg("Room successfully removed.")
	default:
	}
}

// GetOrCreateRoom returns the running room called name, starting it if needed.
// After Shutdown it returns a stopped room, so Register on it fails.
func (m *Manager) GetOrCreateRoom(name string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		room := NewRoom(name, m.maxClients, m.inactivity, m.cleanup, m.done)
		room.Stop()
		return room
	}

	if room, ok := m.rooms[name]; ok {
		select {
		case <-room.stopChan:
		default:
			return room
		}
	}

	room := NewRoom(name, m.maxClients, m.inactivity, m.cleanup, m.done)
	m.rooms[name] = room

	m.roomsWG.Go(room.Run)

	m.logger.Info().Str("room", name).Int("max_clients", m.maxClients).Msg("New Room created and started.")
	return room
}

// GetRoom retrieves a Room instance by name.
func (m *Manager) GetRoom(name string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.rooms[name]
}

// RoomCount returns the number of tracked rooms.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.rooms)
}

// Shutdown stops all rooms, waits for their Run loops to exit, then stops the cleanup goroutine.
// It is safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	m.logger.Info().Msg("Shutting down relay...")
	for _, room := range m.rooms {
		room.Stop()
	}
	m.mu.Unlock()

	m.roomsWG.Wait()
	close(m.done)
	m.wg.Wait()

	m.mu.Lock()
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	m.logger.Info().Msg("Relay shutdown complete.")
}
