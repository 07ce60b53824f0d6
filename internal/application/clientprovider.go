package application

import (
	"sync"

	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// ChatClientProvider enables runtime hot-swap of the chat client.
// It holds a mutex-protected reference to the current driven.ChatClient,
// allowing a login, key rotation or reset to take effect without restarting
// the application.
type ChatClientProvider struct {
	mu     sync.RWMutex
	client driven.ChatClient
}

// NewChatClientProvider creates a new provider with the given initial client.
// client may be nil if nobody is logged in at startup.
func NewChatClientProvider(client driven.ChatClient) *ChatClientProvider {
	return &ChatClientProvider{client: client}
}

// Get returns the current chat client. Callers should check for nil
// if no login has happened yet.
func (p *ChatClientProvider) Get() driven.ChatClient {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

// Replace swaps the current client for a new one and closes the previous
// client, if any. The next caller of Get() receives the new client.
func (p *ChatClientProvider) Replace(client driven.ChatClient) {
	p.mu.Lock()
	old := p.client
	p.client = client
	p.mu.Unlock()

	if old != nil && old != client {
		old.Close()
	}
}

// Clear drops and closes the current client.
func (p *ChatClientProvider) Clear() {
	p.Replace(nil)
}

// HasClient returns true if a non-nil client is currently held.
func (p *ChatClientProvider) HasClient() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil
}
