// Package session persists per-session shopping state in Redis: profile
// info, conversation history, preferences, and the cart, each under its
// own TTL.
package session

import "time"

// Info is the session profile stored at session:{id}:info.
type Info struct {
	ID                string         `json:"id"`
	CreatedAt         time.Time      `json:"created_at"`
	LastActive        time.Time      `json:"last_active"`
	Preferences       map[string]any `json:"preferences,omitempty"`
	Cart              []CartItem     `json:"cart,omitempty"`
	ConversationCount int            `json:"conversation_count"`
}

// Turn is a single conversation entry, append-only.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CartItem is one entry in the session's shopping cart.
// AddedAt is set by the store on insert.
type CartItem struct {
	Name     string    `json:"name"`
	Price    float64   `json:"price"`
	Category string    `json:"category,omitempty"`
	SKU      string    `json:"sku,omitempty"`
	AddedAt  time.Time `json:"added_at"`
}

// Analytics summarizes a session, computed on read.
type Analytics struct {
	SessionID       string         `json:"session_id"`
	DurationSeconds float64        `json:"duration_seconds"`
	TurnCounts      map[string]int `json:"turn_counts"`
	TopTerms        []TermCount    `json:"top_terms,omitempty"`
}

// TermCount pairs a frequent query term with its occurrence count.
type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}
