package conversation

import (
	"fmt"
	"strings"
)

// TempPrefix marks conversations that exist only locally and have not been
// created on the network yet.
const TempPrefix = "tmp-"

type Metadata struct {
	ConversationId string `json:"conversationId"`
	InboxId        string `json:"inboxId"`
	Deleted        bool   `json:"deleted"`
	Pinned         bool   `json:"pinned"`
	Unread         bool   `json:"unread"`
	UpdatedAt      int64  `json:"updatedAt"`
}

func (m *Metadata) String() string {
	return fmt.Sprintf(
		"Metadata(conversationId=%s, inboxId=%s, deleted=%t, pinned=%t, unread=%t, updatedAt=%d)",
		m.ConversationId,
		m.InboxId,
		m.Deleted,
		m.Pinned,
		m.Unread,
		m.UpdatedAt,
	)
}

// Patch is a partial update of Metadata, nil fields are left unchanged.
type Patch struct {
	Deleted *bool `json:"deleted,omitempty"`
	Pinned  *bool `json:"pinned,omitempty"`
	Unread  *bool `json:"unread,omitempty"`
}

func (p *Patch) String() string {
	return fmt.Sprintf("Patch(deleted=%s, pinned=%s, unread=%s)", fmtBool(p.Deleted), fmtBool(p.Pinned), fmtBool(p.Unread))
}

// Apply returns m with the fields set in p overwritten.
func (p *Patch) Apply(m Metadata) Metadata {
	if p.Deleted != nil {
		m.Deleted = *p.Deleted
	}
	if p.Pinned != nil {
		m.Pinned = *p.Pinned
	}
	if p.Unread != nil {
		m.Unread = *p.Unread
	}
	return m
}

func (p *Patch) Empty() bool {
	return p.Deleted == nil && p.Pinned == nil && p.Unread == nil
}

// IsTemp reports whether id refers to a conversation that cannot be
// queried remotely.
func IsTemp(id string) bool {
	return id == "" || strings.HasPrefix(id, TempPrefix)
}

func fmtBool(b *bool) string {
	if b == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%t", *b)
}
