package storage

import (
	"time"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// VendorRow is an API vendor.
type VendorRow struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

func (VendorRow) TableName() string { return "vendors" }

// ModelRow is an admin-maintained model configuration.
type ModelRow struct {
	ID                int64  `gorm:"primaryKey"`
	APIName           string `gorm:"not null"`
	Name              string
	APIVendorID       *int64 `gorm:"index"`
	IsVision          bool
	IsImageGeneration bool
	IsThinking        bool
	InputTokenCost    float64
	OutputTokenCost   float64
	PaidOnly          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (ModelRow) TableName() string { return "models" }

func (m ModelRow) record() schema.ModelRecord {
	r := schema.ModelRecord{
		ID:                m.ID,
		APIName:           m.APIName,
		Name:              m.Name,
		IsVision:          m.IsVision,
		IsImageGeneration: m.IsImageGeneration,
		IsThinking:        m.IsThinking,
		InputTokenCost:    m.InputTokenCost,
		OutputTokenCost:   m.OutputTokenCost,
		PaidOnly:          m.PaidOnly,
	}
	if m.APIVendorID != nil {
		r.APIVendorID = *m.APIVendorID
	}
	return r
}

// MCPToolRow is a registered tool server.
type MCPToolRow struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"not null"`
	Path string `gorm:"not null"`
}

func (MCPToolRow) TableName() string { return "mcp_tools" }

// UserRow carries the usage ledger counters of one user.
type UserRow struct {
	ID          string `gorm:"primaryKey"`
	Email       string `gorm:"index"`
	PeriodUsage float64
	TotalUsage  float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (UserRow) TableName() string { return "users" }

func (u UserRow) user() schema.User {
	return schema.User{ID: u.ID, Email: u.Email, PeriodUsage: u.PeriodUsage, TotalUsage: u.TotalUsage}
}

type PersonaRow struct {
	ID     int64  `gorm:"primaryKey"`
	Name   string `gorm:"not null"`
	Prompt string
}

func (PersonaRow) TableName() string { return "personas" }

type OutputFormatRow struct {
	ID     int64  `gorm:"primaryKey"`
	Name   string `gorm:"not null"`
	Prompt string
}

func (OutputFormatRow) TableName() string { return "output_formats" }

// tables lists every auto-migrated table.
var tables = []any{
	&VendorRow{},
	&ModelRow{},
	&MCPToolRow{},
	&UserRow{},
	&PersonaRow{},
	&OutputFormatRow{},
}
