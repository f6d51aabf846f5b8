package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stockpurse/internal/domain"
)

// OrderRecord is the last observed state of an order.
type OrderRecord struct {
	ID          int64 `gorm:"primaryKey;autoIncrement:false"`
	Account     string
	Venue       string `gorm:"index:idx_order_instrument"`
	Symbol      string `gorm:"index:idx_order_instrument"`
	Direction   string
	OrderType   string
	OriginalQty int64
	Price       int64
	TotalFilled int64
	Open        bool `gorm:"index"`
	PlacedAt    time.Time
	ObservedAt  time.Time // last venue timestamp, not row write time
	Fills       []FillRecord `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// FillRecord is one fill of an order, Seq preserving venue order.
type FillRecord struct {
	ID      uint  `gorm:"primaryKey"`
	OrderID int64 `gorm:"uniqueIndex:idx_fill_seq"`
	Seq     int   `gorm:"uniqueIndex:idx_fill_seq"`
	Price   int64
	Qty     int64
	Ts      time.Time
}

// WarningRecord is one consistency warning.
type WarningRecord struct {
	ID        uint  `gorm:"primaryKey"`
	OrderID   int64 `gorm:"index"`
	Kind      string
	Field     string
	Expected  string
	Got       string
	CreatedAt time.Time
}

// CheckpointRecord holds the latest aggregates per account and instrument.
type CheckpointRecord struct {
	Account   string `gorm:"primaryKey"`
	Venue     string `gorm:"primaryKey"`
	Symbol    string `gorm:"primaryKey"`
	Position  int64
	Basis     int64
	UpdatedAt time.Time
}

// Journal is a write-mostly audit trail of orders and warnings.
type Journal struct {
	db *gorm.DB
}

// NewJournal opens (or creates) the SQLite journal at path.
func NewJournal(path string) (*Journal, error) {
	// Ensure directory exists
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newJournal(db)
}

func newJournal(db *gorm.DB) (*Journal, error) {
	// Auto Migration
	if err := db.AutoMigrate(&OrderRecord{}, &FillRecord{}, &WarningRecord{}, &CheckpointRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying connection.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Order Operations
// ======================================================================================

// SaveOrder upserts an order and replaces its fills.
func (j *Journal) SaveOrder(o *domain.Order) error {
	rec := toRecord(o)
	return j.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Fills").Save(&rec).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", rec.ID).Delete(&FillRecord{}).Error; err != nil {
			return err
		}
		if len(rec.Fills) == 0 {
			return nil
		}
		return tx.Create(&rec.Fills).Error
	})
}

// GetOrder returns a journaled order, or nil if it was never saved.
func (j *Journal) GetOrder(id domain.OrderID) (*domain.Order, error) {
	var rec OrderRecord
	err := j.db.Preload("Fills", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq")
	}).First(&rec, "id = ?", int64(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// ListOrders returns orders for an instrument sorted by id. open filters by
// state when non-nil.
func (j *Journal) ListOrders(inst domain.Instrument, open *bool) ([]*domain.Order, error) {
	q := j.db.Preload("Fills", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq")
	}).Where("venue = ? AND symbol = ?", inst.Venue, inst.Symbol)
	if open != nil {
		q = q.Where("open = ?", *open)
	}

	var recs []OrderRecord
	if err := q.Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Order, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

// ======================================================================================
// Warning Operations
// ======================================================================================

// SaveWarnings appends warnings in one batch.
func (j *Journal) SaveWarnings(ws []domain.ConsistencyWarning) error {
	if len(ws) == 0 {
		return nil
	}
	recs := make([]WarningRecord, 0, len(ws))
	for _, w := range ws {
		recs = append(recs, WarningRecord{
			OrderID:  int64(w.OrderID),
			Kind:     string(w.Kind),
			Field:    w.Field,
			Expected: w.Expected,
			Got:      w.Got,
		})
	}
	return j.db.Create(&recs).Error
}

// ListWarnings returns the most recent warnings, newest first.
func (j *Journal) ListWarnings(limit int) ([]domain.ConsistencyWarning, error) {
	var recs []WarningRecord
	q := j.db.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ConsistencyWarning, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.ConsistencyWarning{
			OrderID:  domain.OrderID(r.OrderID),
			Kind:     domain.WarningKind(r.Kind),
			Field:    r.Field,
			Expected: r.Expected,
			Got:      r.Got,
		})
	}
	return out, nil
}

// ======================================================================================
// Checkpoint Operations
// ======================================================================================

// SaveCheckpoint records the ledger aggregates.
func (j *Journal) SaveCheckpoint(account string, inst domain.Instrument, position, basis int64) error {
	return j.db.Save(&CheckpointRecord{
		Account:  account,
		Venue:    inst.Venue,
		Symbol:   inst.Symbol,
		Position: position,
		Basis:    basis,
	}).Error
}

// LoadCheckpoint returns the last saved aggregates; ok is false if none exist.
func (j *Journal) LoadCheckpoint(account string, inst domain.Instrument) (position, basis int64, ok bool, err error) {
	var rec CheckpointRecord
	err = j.db.First(&rec, "account = ? AND venue = ? AND symbol = ?", account, inst.Venue, inst.Symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return rec.Position, rec.Basis, true, nil
}

func toRecord(o *domain.Order) OrderRecord {
	rec := OrderRecord{
		ID:          int64(o.ID),
		Account:     o.Account,
		Venue:       o.Venue,
		Symbol:      o.Symbol,
		Direction:   string(o.Direction),
		OrderType:   string(o.Type),
		OriginalQty: o.Qty,
		Price:       o.Price,
		TotalFilled: o.TotalFilled,
		Open:        o.Open,
		PlacedAt:    o.PlacedAt,
		ObservedAt:  o.UpdatedAt,
	}
	for i, f := range o.Fills {
		rec.Fills = append(rec.Fills, FillRecord{OrderID: rec.ID, Seq: i, Price: f.Price, Qty: f.Qty, Ts: f.Ts})
	}
	return rec
}

func fromRecord(rec OrderRecord) *domain.Order {
	o := &domain.Order{
		ID:          domain.OrderID(rec.ID),
		Account:     rec.Account,
		Venue:       rec.Venue,
		Symbol:      rec.Symbol,
		Direction:   domain.Direction(rec.Direction),
		Type:        domain.OrderType(rec.OrderType),
		Qty:         rec.OriginalQty,
		Price:       rec.Price,
		TotalFilled: rec.TotalFilled,
		Open:        rec.Open,
		PlacedAt:    rec.PlacedAt,
		UpdatedAt:   rec.ObservedAt,
	}
	for _, f := range rec.Fills {
		o.Fills = append(o.Fills, domain.Fill{Price: f.Price, Qty: f.Qty, Ts: f.Ts})
	}
	return o
}
