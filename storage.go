package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

// Filter is one predicate of the record store query language. Keys are
// entity attribute names (merchantId, channelId, ...), not column names.
type Filter struct {
	Key   string
	Op    FilterOp
	Value any
}

func Eq(key string, value any) Filter { return Filter{Key: key, Op: FilterOpEq, Value: value} }
func Ne(key string, value any) Filter { return Filter{Key: key, Op: FilterOpNe, Value: value} }
func IsNull(key string) Filter        { return Filter{Key: key, Op: FilterOpIsNull} }
func NotNull(key string) Filter       { return Filter{Key: key, Op: FilterOpNotNull} }
func In(key string, values []string) Filter {
	return Filter{Key: key, Op: FilterOpIn, Value: values}
}

// RecordStore is the persistence capability over channel registrations
// and notification records.
type RecordStore interface {
	Ping(ctx context.Context) error
	FindChannels(ctx context.Context, filters ...Filter) ([]ChannelRegistration, error)
	InsertChannel(ctx context.Context, channel ChannelRegistration) error
	DeleteChannels(ctx context.Context, filters ...Filter) (int64, error)
	FindRecords(ctx context.Context, filters ...Filter) ([]NotificationRecord, error)
	InsertRecord(ctx context.Context, record NotificationRecord) error
	UpdateRecords(ctx context.Context, changes map[string]any, filters ...Filter) (int64, error)
	DeleteRecords(ctx context.Context, filters ...Filter) (int64, error)
	Close() error
}

var channelColumns = map[string]string{
	"channelId": "channel_id",
	"guildId":   "guild_id",
	"kind":      "kind",
}

var recordColumns = map[string]string{
	"messageId":  "message_id",
	"merchantId": "merchant_id",
	"islandName": "island_name",
	"channelId":  "channel_id",
}

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	guild_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (channel_id, guild_id, kind)
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	merchant_id TEXT,
	island_name TEXT,
	channel_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_merchant_channel
	ON messages (merchant_id, channel_id) WHERE merchant_id IS NOT NULL;
`

// SQLiteStore is the sqlite-backed RecordStore. The unique index on
// (merchant_id, channel_id) closes the find-then-insert race: a losing
// concurrent insert surfaces as ErrDuplicateRecord.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, oops.With("path", path).Wrap(err)
			}
		}
	}

	dsn := path + "?_busy_timeout=5000"
	if strings.Contains(path, "?") {
		dsn = path + "&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, oops.With("context", "applying schema").Wrap(err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindChannels(ctx context.Context, filters ...Filter) ([]ChannelRegistration, error) {
	where, args, err := buildWhere(channelColumns, filters)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, channel_id, guild_id, kind, created_at FROM channels" + where
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, oops.With("query", query).Wrap(err)
	}
	defer rows.Close()

	var channels []ChannelRegistration
	for rows.Next() {
		var ch ChannelRegistration
		var kind string
		if err := rows.Scan(&ch.ID, &ch.ChannelID, &ch.GuildID, &kind, &ch.CreatedAt); err != nil {
			return nil, oops.Wrap(err)
		}
		ch.Kind = ChannelKind(kind)
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func (s *SQLiteStore) InsertChannel(ctx context.Context, channel ChannelRegistration) error {
	if channel.ID == "" {
		channel.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO channels (id, channel_id, guild_id, kind, created_at) VALUES (?, ?, ?, ?, ?)",
		channel.ID, channel.ChannelID, channel.GuildID, channel.Kind.String(), time.Now().UTC(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateRecord
	}
	if err != nil {
		return oops.With("channel_id", channel.ChannelID, "kind", channel.Kind.String()).Wrap(err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChannels(ctx context.Context, filters ...Filter) (int64, error) {
	where, args, err := buildWhere(channelColumns, filters)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM channels"+where, args...)
	if err != nil {
		return 0, oops.Wrap(err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) FindRecords(ctx context.Context, filters ...Filter) ([]NotificationRecord, error) {
	where, args, err := buildWhere(recordColumns, filters)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, message_id, COALESCE(merchant_id, ''), COALESCE(island_name, ''), channel_id, created_at FROM messages" + where
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, oops.With("query", query).Wrap(err)
	}
	defer rows.Close()

	var records []NotificationRecord
	for rows.Next() {
		var rec NotificationRecord
		if err := rows.Scan(&rec.ID, &rec.MessageID, &rec.MerchantID, &rec.IslandName, &rec.ChannelID, &rec.CreatedAt); err != nil {
			return nil, oops.Wrap(err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) InsertRecord(ctx context.Context, record NotificationRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, message_id, merchant_id, island_name, channel_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		record.ID, record.MessageID, nullable(record.MerchantID), nullable(record.IslandName), record.ChannelID, time.Now().UTC(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateRecord
	}
	if err != nil {
		return oops.With("merchant_id", record.MerchantID, "channel_id", record.ChannelID).Wrap(err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRecords(ctx context.Context, changes map[string]any, filters ...Filter) (int64, error) {
	if len(changes) == 0 {
		return 0, nil
	}

	var sets []string
	var args []any
	for _, key := range lo.Keys(changes) {
		column, ok := recordColumns[key]
		if !ok {
			return 0, oops.With("key", key).Wrap(ErrUnknownFilterKey)
		}
		sets = append(sets, column+" = ?")
		args = append(args, changes[key])
	}

	where, whereArgs, err := buildWhere(recordColumns, filters)
	if err != nil {
		return 0, err
	}
	args = append(args, whereArgs...)

	res, err := s.db.ExecContext(ctx, "UPDATE messages SET "+strings.Join(sets, ", ")+where, args...)
	if err != nil {
		return 0, oops.Wrap(err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteRecords(ctx context.Context, filters ...Filter) (int64, error) {
	where, args, err := buildWhere(recordColumns, filters)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages"+where, args...)
	if err != nil {
		return 0, oops.Wrap(err)
	}
	return res.RowsAffected()
}

// buildWhere maps attribute filters to a parametrized WHERE clause.
// Unknown keys are rejected rather than interpolated.
func buildWhere(columns map[string]string, filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	var clauses []string
	var args []any
	for _, filter := range filters {
		column, ok := columns[filter.Key]
		if !ok {
			return "", nil, oops.With("key", filter.Key).Wrap(ErrUnknownFilterKey)
		}

		switch filter.Op {
		case FilterOpEq:
			clauses = append(clauses, column+" = ?")
			args = append(args, filter.Value)
		case FilterOpNe:
			clauses = append(clauses, column+" != ?")
			args = append(args, filter.Value)
		case FilterOpIsNull:
			clauses = append(clauses, column+" IS NULL")
		case FilterOpNotNull:
			clauses = append(clauses, column+" IS NOT NULL")
		case FilterOpIn:
			values, ok := filter.Value.([]string)
			if !ok || len(values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
			clauses = append(clauses, column+" IN ("+placeholders+")")
			for _, v := range values {
				args = append(args, v)
			}
		default:
			return "", nil, oops.With("op", filter.Op.String()).Errorf("unsupported filter operator")
		}
	}

	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func fmtFilters(filters []Filter) string {
	parts := lo.Map(filters, func(f Filter, _ int) string {
		return fmt.Sprintf("%s %s %v", f.Key, f.Op, f.Value)
	})
	return strings.Join(parts, " AND ")
}
