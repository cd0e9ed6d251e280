// Package storage persists the configuration entities and usage ledger the
// orchestration core reads through the schema collaborator interfaces.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// Store is a GORM-backed implementation of the schema stores.
type Store struct {
	db *gorm.DB
}

var (
	_ schema.ModelStore  = (*Store)(nil)
	_ schema.VendorStore = (*Store)(nil)
	_ schema.ToolStore   = (*Store)(nil)
	_ schema.PromptStore = (*Store)(nil)
	_ schema.UsageLedger = (*Store)(nil)
)

// Open opens (creating when needed) the SQLite database at path and migrates
// all tables. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("storage: empty database path")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory %s: %w", dir, err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLog()})
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	// SQLite serialises writers; one connection also keeps :memory: alive.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(tables...); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, what string, key any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, key, schema.ErrNotFound)
	}
	return fmt.Errorf("find %s %v: %w", what, key, err)
}

// ---------------------------------------------------------------------------
// Models and vendors
// ---------------------------------------------------------------------------

func (s *Store) FindModelByID(ctx context.Context, id int64) (*schema.ModelRecord, error) {
	var row ModelRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "model", id)
	}
	r := row.record()
	return &r, nil
}

// ListModels returns every model ordered by id.
func (s *Store) ListModels(ctx context.Context) ([]schema.ModelRecord, error) {
	var rows []ModelRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	out := make([]schema.ModelRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

// CreateModel inserts m and sets its ID.
func (s *Store) CreateModel(ctx context.Context, m *schema.ModelRecord) error {
	row := ModelRow{
		APIName:           m.APIName,
		Name:              m.Name,
		IsVision:          m.IsVision,
		IsImageGeneration: m.IsImageGeneration,
		IsThinking:        m.IsThinking,
		InputTokenCost:    m.InputTokenCost,
		OutputTokenCost:   m.OutputTokenCost,
		PaidOnly:          m.PaidOnly,
	}
	if m.APIVendorID != 0 {
		vid := m.APIVendorID
		row.APIVendorID = &vid
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create model %s: %w", m.APIName, err)
	}
	m.ID = row.ID
	return nil
}

func (s *Store) FindVendorByID(ctx context.Context, id int64) (*schema.Vendor, error) {
	var row VendorRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "vendor", id)
	}
	return &schema.Vendor{ID: row.ID, Name: row.Name}, nil
}

// FindVendorByName matches case-insensitively.
func (s *Store) FindVendorByName(ctx context.Context, name string) (*schema.Vendor, error) {
	var row VendorRow
	err := s.db.WithContext(ctx).
		Where("lower(name) = ?", strings.ToLower(name)).
		First(&row).Error
	if err != nil {
		return nil, notFound(err, "vendor", name)
	}
	return &schema.Vendor{ID: row.ID, Name: row.Name}, nil
}

// UpsertVendor returns the vendor named name, creating it when absent.
func (s *Store) UpsertVendor(ctx context.Context, name string) (*schema.Vendor, error) {
	if v, err := s.FindVendorByName(ctx, name); err == nil {
		return v, nil
	} else if !errors.Is(err, schema.ErrNotFound) {
		return nil, err
	}
	row := VendorRow{Name: strings.ToLower(name)}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create vendor %s: %w", name, err)
	}
	return &schema.Vendor{ID: row.ID, Name: row.Name}, nil
}

// ---------------------------------------------------------------------------
// Tools and prompts
// ---------------------------------------------------------------------------

func (s *Store) FindToolByID(ctx context.Context, id int64) (*schema.MCPTool, error) {
	var row MCPToolRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "mcp tool", id)
	}
	return &schema.MCPTool{ID: row.ID, Name: row.Name, Path: row.Path}, nil
}

func (s *Store) CreateTool(ctx context.Context, name, path string) (*schema.MCPTool, error) {
	row := MCPToolRow{Name: name, Path: path}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create mcp tool %s: %w", name, err)
	}
	return &schema.MCPTool{ID: row.ID, Name: row.Name, Path: row.Path}, nil
}

// ListTools returns every registered MCP tool ordered by id.
func (s *Store) ListTools(ctx context.Context) ([]schema.MCPTool, error) {
	var rows []MCPToolRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}
	out := make([]schema.MCPTool, len(rows))
	for i, r := range rows {
		out[i] = schema.MCPTool{ID: r.ID, Name: r.Name, Path: r.Path}
	}
	return out, nil
}

func (s *Store) FindPersona(ctx context.Context, id int64) (*schema.Persona, error) {
	var row PersonaRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "persona", id)
	}
	return &schema.Persona{ID: row.ID, Name: row.Name, Prompt: row.Prompt}, nil
}

func (s *Store) CreatePersona(ctx context.Context, name, prompt string) (*schema.Persona, error) {
	row := PersonaRow{Name: name, Prompt: prompt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create persona %s: %w", name, err)
	}
	return &schema.Persona{ID: row.ID, Name: row.Name, Prompt: row.Prompt}, nil
}

func (s *Store) FindOutputFormat(ctx context.Context, id int64) (*schema.OutputFormat, error) {
	var row OutputFormatRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "output format", id)
	}
	return &schema.OutputFormat{ID: row.ID, Name: row.Name, Prompt: row.Prompt}, nil
}

func (s *Store) CreateOutputFormat(ctx context.Context, name, prompt string) (*schema.OutputFormat, error) {
	row := OutputFormatRow{Name: name, Prompt: prompt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create output format %s: %w", name, err)
	}
	return &schema.OutputFormat{ID: row.ID, Name: row.Name, Prompt: row.Prompt}, nil
}

// ---------------------------------------------------------------------------
// Users and usage ledger
// ---------------------------------------------------------------------------

// CreateUser inserts a user with a fresh id and zeroed counters.
func (s *Store) CreateUser(ctx context.Context, email string) (*schema.User, error) {
	row := UserRow{ID: uuid.NewString(), Email: email}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create user %s: %w", email, err)
	}
	u := row.user()
	return &u, nil
}

func (s *Store) FindUser(ctx context.Context, id string) (*schema.User, error) {
	var row UserRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "user", id)
	}
	u := row.user()
	return &u, nil
}

// IncrementUsage adds amount to both counters in a single UPDATE so
// concurrent increments commute.
func (s *Store) IncrementUsage(ctx context.Context, userID string, amount float64) error {
	if amount < 0 || amount != amount {
		return fmt.Errorf("increment usage: %w: %v", schema.ErrInvalidAmount, amount)
	}
	res := s.db.WithContext(ctx).
		Model(&UserRow{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"period_usage": gorm.Expr("period_usage + ?", amount),
			"total_usage":  gorm.Expr("total_usage + ?", amount),
		})
	if res.Error != nil {
		return fmt.Errorf("increment usage for %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", userID, schema.ErrNotFound)
	}
	return nil
}

// ResetPeriodUsage zeroes the period counter of every user and returns the
// number of rows changed.
func (s *Store) ResetPeriodUsage(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&UserRow{}).
		Where("period_usage <> ?", 0).
		Update("period_usage", 0)
	if res.Error != nil {
		return 0, fmt.Errorf("reset period usage: %w", res.Error)
	}
	return res.RowsAffected, nil
}
