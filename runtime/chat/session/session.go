// Package session defines the durable conversation transcript model.
//
// A conversation is an ordered, append-only sequence of role-tagged turns
// owned exclusively by the session store. Clients may clear a conversation's
// turns, but individual turns are never edited in place.
package session

import (
	"context"
	"errors"
	"time"
)

// InactivityWindow is how long a session may stay idle before storage is
// allowed to garbage-collect it. Expiry is a storage-layer concern: the
// streaming core only ever observes an expired session as ErrNotFound.
const InactivityWindow = 72 * time.Hour

// ErrNotFound indicates no session exists for the conversation. Stores must
// never fabricate a session on read.
var ErrNotFound = errors.New("conversation not found")

type (
	// Role tags who produced a turn.
	Role string

	// Turn is one message within a conversation. Immutable once recorded.
	Turn struct {
		// Role identifies the author.
		Role Role `json:"role" bson:"role"`
		// Text is the message content.
		Text string `json:"text" bson:"text"`
	}

	// Session is a conversation's durable state.
	Session struct {
		// ConversationID is the stable identifier of the conversation.
		ConversationID string
		// Turns is the ordered transcript.
		Turns []Turn
		// LastActive records the most recent write, and drives expiry.
		LastActive time.Time
	}

	// Store persists conversation transcripts.
	//
	// Every write updates the session's last-active timestamp. The caller is
	// responsible for invoking Append exactly once per logical turn; each
	// call is one physical append.
	Store interface {
		// Create ensures a session exists for the conversation. Idempotent:
		// creating an existing session returns it unchanged.
		Create(ctx context.Context, conversationID string) (Session, error)
		// Append adds one turn to the conversation, creating the session
		// when it does not exist yet.
		Append(ctx context.Context, conversationID string, role Role, text string) error
		// History returns the conversation's turns in order. Returns
		// ErrNotFound when the session does not exist; a cleared session
		// yields an empty slice, not ErrNotFound.
		History(ctx context.Context, conversationID string) ([]Turn, error)
		// Clear empties the conversation's turns without deleting the
		// session. Returns ErrNotFound when the session does not exist.
		Clear(ctx context.Context, conversationID string) error
	}
)

const (
	// RoleUser marks turns authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks turns authored by the assistant.
	RoleAssistant Role = "assistant"
)
