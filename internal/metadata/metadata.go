// Package metadata serves per inbox conversation metadata (pinned, unread,
// deleted) through the query cache. Reads and writes against the store run
// through the timed call wrapper.
package metadata

import (
	"context"
	"time"

	"github.com/opwatch/opwatch/internal/query"
	"github.com/opwatch/opwatch/internal/wrapper"
	"github.com/opwatch/opwatch/pkg/conversation"
)

const (
	GcTime = 30 * 24 * time.Hour

	getOperation    = "getConversationMetadata"
	updateOperation = "updateConversationMetadata"
)

type Store interface {
	GetConversationMetadata(ctx context.Context, conversationId string, inboxId string) (*conversation.Metadata, error)
	UpdateConversationMetadata(ctx context.Context, m *conversation.Metadata) error
}

type Args struct {
	ConversationId string
	InboxId        string
}

func Key(args Args) query.Key {
	return query.Key{"conversation-metadata", args.ConversationId, args.InboxId}
}

type Service struct {
	client  *query.Client
	wrapper *wrapper.Wrapper
	store   Store

	now func() time.Time
}

func New(client *query.Client, wrapper *wrapper.Wrapper, store Store) *Service {
	return &Service{
		client:  client,
		wrapper: wrapper,
		store:   store,
		now:     time.Now,
	}
}

// Options are the query options for args. Only the current inbox changes
// its own metadata, so data never goes stale and is kept for thirty days.
func Options(args Args, caller string) query.Options {
	return query.Options{
		Key:       Key(args),
		Caller:    caller,
		StaleTime: query.Infinity,
		GcTime:    GcTime,
		Disabled:  conversation.IsTemp(args.ConversationId),
	}
}

// Get returns the metadata for args, nil if none was ever written. Queries
// for temporary conversations fail with query.ErrQueryDisabled unless data
// was set locally.
func (s *Service) Get(ctx context.Context, args Args, caller string) (*conversation.Metadata, error) {
	return query.Fetch(ctx, s.client, Options(args, caller), s.fetch(args))
}

func (s *Service) Prefetch(ctx context.Context, args Args, caller string) {
	query.Prefetch(ctx, s.client, Options(args, caller), s.fetch(args))
}

func (s *Service) GetCached(args Args) (*conversation.Metadata, bool) {
	m, ok := query.GetData[*conversation.Metadata](s.client, Key(args))
	if !ok || m == nil {
		return nil, false
	}

	return m, true
}

// SetCached merges patch onto the cached metadata for args, starting from
// defaults when nothing is cached, and returns the result.
func (s *Service) SetCached(args Args, patch *conversation.Patch) *conversation.Metadata {
	return s.merge(args, patch, false)
}

// Update applies patch to the cache immediately and persists the result.
// The stored record is loaded first when nothing is cached, so fields the
// patch leaves unset keep their persisted values. If persisting fails the
// previous cached value is restored.
func (s *Service) Update(ctx context.Context, args Args, patch *conversation.Patch, caller string) (*conversation.Metadata, error) {
	if !conversation.IsTemp(args.ConversationId) {
		if _, err := s.Get(ctx, args, caller); err != nil {
			return nil, err
		}
	}

	prev, hadPrev := query.GetData[*conversation.Metadata](s.client, Key(args))
	next := s.merge(args, patch, true)

	opts := query.MutationOptions{Key: Key(args), Caller: caller}
	_, err := query.Mutate(ctx, s.client, opts, patch, func(ctx context.Context, _ *conversation.Patch) (struct{}, error) {
		return struct{}{}, s.wrapper.Do(ctx, updateOperation, func(ctx context.Context) error {
			return s.store.UpdateConversationMetadata(ctx, next)
		})
	})
	if err != nil {
		if hadPrev {
			query.SetData(s.client, Key(args), func(*conversation.Metadata, bool) *conversation.Metadata { return prev })
		} else {
			s.client.Remove(Key(args))
		}
		return nil, err
	}

	return next, nil
}

func (s *Service) merge(args Args, patch *conversation.Patch, touch bool) *conversation.Metadata {
	return query.SetData(s.client, Key(args), func(prev *conversation.Metadata, _ bool) *conversation.Metadata {
		now := s.now().UnixMilli()

		base := conversation.Metadata{
			ConversationId: args.ConversationId,
			InboxId:        args.InboxId,
			UpdatedAt:      now,
		}
		if prev != nil {
			base = *prev
		}

		next := patch.Apply(base)
		if touch {
			next.UpdatedAt = now
		}
		return &next
	})
}

func (s *Service) fetch(args Args) func(context.Context) (*conversation.Metadata, error) {
	return func(ctx context.Context) (*conversation.Metadata, error) {
		return wrapper.Call(ctx, s.wrapper, getOperation, func(ctx context.Context) (*conversation.Metadata, error) {
			return s.store.GetConversationMetadata(ctx, args.ConversationId, args.InboxId)
		})
	}
}
