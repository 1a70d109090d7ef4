// Package journal persists committed ledger events to a SQL database so
// clients can page through them after the fact.
package journal

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"vaultledger/core/events"
	"vaultledger/core/types"
	"vaultledger/observability"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1_000
)

// ErrDSNRequired is returned when no database location is configured.
var ErrDSNRequired = errors.New("journal: dsn required")

// Entry is the persisted form of one event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:96;index;not null"`
	Asset      string    `gorm:"size:32;index"`
	Holding    string    `gorm:"size:96;index"`
	Attributes string    `gorm:"type:text"`
	Digest     string    `gorm:"size:64;not null"`
	CreatedAt  time.Time `gorm:"index"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (Entry) TableName() string { return "ledger_events" }

// Query selects a page of events. Sequences are strictly increasing, so After
// is the cursor for the next page.
type Query struct {
	Type    string
	Asset   string
	Holding string
	After   uint64
	Limit   int
}

// Journal is an events.Emitter that appends every event it receives.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sequence uint64
}

// Open connects to dsn. postgres:// URLs use the Postgres driver, anything
// else is treated as a SQLite path or DSN.
func Open(dsn string, log *slog.Logger) (*Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db, log)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last Entry
	res := db.Order("sequence desc").Limit(1).Find(&last)
	if res.Error != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", res.Error)
	}
	return &Journal{
		db:       db,
		logger:   log.With("component", "journal"),
		now:      time.Now,
		sequence: last.Sequence,
	}, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Write failures are logged because the
// ledger state change has already been committed.
func (j *Journal) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if err := j.Append(context.Background(), evt); err != nil {
		j.logger.Error("append event", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt under the next sequence number.
func (j *Journal) Append(ctx context.Context, evt events.Event) error {
	record := render(evt)
	attrs, err := json.Marshal(record.Attributes)
	if err != nil {
		return fmt.Errorf("journal: encode attributes: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	entry := Entry{
		ID:         uuid.New(),
		Sequence:   j.sequence + 1,
		Type:       record.Type,
		Asset:      record.Attributes["asset"],
		Holding:    record.Attributes["holding"],
		Attributes: string(attrs),
		Digest:     Digest(record),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	j.sequence = entry.Sequence
	observability.Events().RecordEvent(entry.Type)
	return nil
}

// List returns events matching q in sequence order.
func (j *Journal) List(ctx context.Context, q Query) ([]types.EventRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	tx := j.db.WithContext(ctx).Where("sequence > ?", q.After)
	if eventType := strings.TrimSpace(q.Type); eventType != "" {
		tx = tx.Where("type = ?", eventType)
	}
	if asset := strings.ToUpper(strings.TrimSpace(q.Asset)); asset != "" {
		tx = tx.Where("asset = ?", asset)
	}
	if holding := strings.TrimSpace(q.Holding); holding != "" {
		tx = tx.Where("holding = ?", holding)
	}
	var entries []Entry
	if err := tx.Order("sequence asc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	out := make([]types.EventRecord, 0, len(entries))
	for _, entry := range entries {
		rec, err := entry.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Sequence returns the sequence number of the last stored event.
func (j *Journal) Sequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sequence
}

func (e Entry) record() (types.EventRecord, error) {
	attrs := map[string]string{}
	if e.Attributes != "" {
		if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
			return types.EventRecord{}, fmt.Errorf("journal: decode attributes of %d: %w", e.Sequence, err)
		}
	}
	return types.EventRecord{
		ID:         e.ID.String(),
		Sequence:   e.Sequence,
		Type:       e.Type,
		Attributes: attrs,
		Digest:     e.Digest,
		CreatedAt:  e.CreatedAt.UTC(),
	}, nil
}

func render(evt events.Event) *types.Event {
	if payload, ok := evt.(events.Payload); ok {
		if rendered := payload.Event(); rendered != nil {
			if rendered.Attributes == nil {
				rendered.Attributes = map[string]string{}
			}
			return rendered
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Digest is the blake3 hash of the event type and its sorted attributes. It
// lets consumers detect rows altered after they were written.
func Digest(evt *types.Event) string {
	h := blake3.New(32, nil)
	_, _ = h.Write([]byte(evt.Type))
	for _, key := range evt.AttributeKeys() {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(key))
		_, _ = h.Write([]byte{'='})
		_, _ = h.Write([]byte(evt.Attributes[key]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
