// Package events carries site change notifications between the store
// writer and every live consumer: SSE streams, hooks, broadcasters in
// other processes. Topics are dot-separated NATS subjects.
package events

import (
	"context"
	"strings"

	"github.com/alfredjeanlab/sitegate/internal/model"
)

const (
	TopicStatusUpdated  = "site.status.updated"
	TopicContentUpdated = "site.content.updated"
	TopicSessionRevoked = "site.session.revoked"

	// TopicAll matches every site event.
	TopicAll = "site.>"
)

// StatusUpdated carries the committed singleton row after a write.
type StatusUpdated struct {
	Status    *model.SiteStatus `json:"status"`
	UpdatedBy string            `json:"updated_by,omitempty"`
}

// ContentUpdated carries one edited content section.
type ContentUpdated struct {
	Entry     *model.ContentEntry `json:"entry"`
	UpdatedBy string              `json:"updated_by,omitempty"`
}

// SessionRevoked names a session token that was signed out.
type SessionRevoked struct {
	SessionID   string `json:"session_id"`
	IdentityRef string `json:"identity_ref,omitempty"`
}

// Publisher emits events as JSON.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber delivers raw JSON payloads for a topic pattern. The cancel
// func unsubscribes and closes the channel; calling it again is a no-op.
type Subscriber interface {
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// ReconnectNotifier is implemented by subscribers whose connection can drop.
// Anything published while disconnected is lost, so consumers refetch from
// the callback.
type ReconnectNotifier interface {
	OnReconnect(fn func()) (cancel func())
}

// MatchTopic reports whether topic matches pattern. A "*" token matches
// exactly one token and a trailing ">" matches one or more.
func MatchTopic(pattern, topic string) bool {
	for {
		pat, patRest, patMore := strings.Cut(pattern, ".")
		tok, topRest, topMore := strings.Cut(topic, ".")
		switch {
		case pat == ">" && !patMore:
			return tok != ""
		case pat != "*" && pat != tok:
			return false
		case patMore != topMore:
			return false
		case !patMore:
			return true
		}
		pattern, topic = patRest, topRest
	}
}
