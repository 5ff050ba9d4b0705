package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/opwatch/opwatch/internal/metrics"
	"github.com/opwatch/opwatch/pkg/conversation"

	_ "github.com/mattn/go-sqlite3"
)

const (
	CREATE_TABLE_STATEMENT = `
	CREATE TABLE IF NOT EXISTS conversation_metadata (
		conversation_id TEXT,
		inbox_id        TEXT,
		deleted         BOOLEAN DEFAULT false,
		pinned          BOOLEAN DEFAULT false,
		unread          BOOLEAN DEFAULT false,
		updated_at      INTEGER,
		PRIMARY KEY(conversation_id, inbox_id)
	);

	CREATE TABLE IF NOT EXISTS secure_items (
		service    TEXT,
		key        TEXT,
		value      BLOB,
		updated_at INTEGER,
		PRIMARY KEY(service, key)
	);`

	METADATA_SELECT_STATEMENT = `
	SELECT
		conversation_id, inbox_id, deleted, pinned, unread, updated_at
	FROM
		conversation_metadata
	WHERE
		conversation_id = ? AND inbox_id = ?`

	METADATA_UPSERT_STATEMENT = `
	INSERT INTO conversation_metadata
		(conversation_id, inbox_id, deleted, pinned, unread, updated_at)
	VALUES
		(?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_id, inbox_id) DO UPDATE SET
		deleted = excluded.deleted,
		pinned = excluded.pinned,
		unread = excluded.unread,
		updated_at = excluded.updated_at`

	ITEM_SELECT_STATEMENT = `
	SELECT
		value
	FROM
		secure_items
	WHERE
		service = ? AND key = ?`

	ITEM_UPSERT_STATEMENT = `
	INSERT INTO secure_items
		(service, key, value, updated_at)
	VALUES
		(?, ?, ?, ?)
	ON CONFLICT(service, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	ITEM_DELETE_STATEMENT = `
	DELETE FROM secure_items WHERE service = ? AND key = ?`
)

// Config

type Config struct {
	Path      string        `flag:"path" desc:"sqlite database path" default:"opwatch.db" validate:"required"`
	TxTimeout time.Duration `flag:"tx-timeout" desc:"sqlite transaction timeout" default:"10s" validate:"gt=0"`
	Reset     bool          `flag:"reset" desc:"reset sqlite db on shutdown" default:"false"`
}

// Store

type SqliteStore struct {
	config  *Config
	db      *sql.DB
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(config *Config, metrics *metrics.Metrics) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, err
	}

	// an in memory database exists per connection
	if config.Path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	return &SqliteStore{
		config:  config,
		db:      db,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

func (s *SqliteStore) String() string {
	return "store:sqlite"
}

func (s *SqliteStore) Start(chan<- error) error {
	if _, err := s.db.Exec(CREATE_TABLE_STATEMENT); err != nil {
		return err
	}

	return nil
}

func (s *SqliteStore) Stop() error {
	if err := s.db.Close(); err != nil {
		return err
	}

	if s.config.Reset {
		return s.Reset()
	}

	return nil
}

func (s *SqliteStore) Reset() error {
	if _, err := os.Stat(s.config.Path); err != nil {
		return nil
	}

	return os.Remove(s.config.Path)
}

// Conversation metadata

// GetConversationMetadata returns the stored metadata, or nil if none has
// been written for the conversation and inbox.
func (s *SqliteStore) GetConversationMetadata(ctx context.Context, conversationId string, inboxId string) (*conversation.Metadata, error) {
	var record *conversation.Metadata

	err := s.execute(ctx, "readMetadata", func(tx *sql.Tx) error {
		m := &conversation.Metadata{}
		row := tx.QueryRowContext(ctx, METADATA_SELECT_STATEMENT, conversationId, inboxId)

		if err := row.Scan(
			&m.ConversationId,
			&m.InboxId,
			&m.Deleted,
			&m.Pinned,
			&m.Unread,
			&m.UpdatedAt,
		); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		record = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (s *SqliteStore) UpdateConversationMetadata(ctx context.Context, m *conversation.Metadata) error {
	return s.execute(ctx, "writeMetadata", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, METADATA_UPSERT_STATEMENT,
			m.ConversationId,
			m.InboxId,
			m.Deleted,
			m.Pinned,
			m.Unread,
			m.UpdatedAt,
		)
		return err
	})
}

// Secure items

func (s *SqliteStore) ReadItem(ctx context.Context, service string, key string) ([]byte, bool, error) {
	var value []byte
	var found bool

	err := s.execute(ctx, "readItem", func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, ITEM_SELECT_STATEMENT, service, key).Scan(&value); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return value, found, nil
}

func (s *SqliteStore) WriteItem(ctx context.Context, service string, key string, value []byte) error {
	return s.execute(ctx, "writeItem", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, ITEM_UPSERT_STATEMENT, service, key, value, s.now().UnixMilli())
		return err
	})
}

func (s *SqliteStore) DeleteItem(ctx context.Context, service string, key string) error {
	return s.execute(ctx, "deleteItem", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, ITEM_DELETE_STATEMENT, service, key)
		return err
	})
}

func (s *SqliteStore) execute(ctx context.Context, kind string, fn func(*sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	err := s.transact(ctx, fn)

	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		s.metrics.StoreTransactionsTotal.WithLabelValues(kind, status).Inc()
	}

	return err
}

func (s *SqliteStore) transact(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = fmt.Errorf("tx failed: %v, unable to rollback: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
