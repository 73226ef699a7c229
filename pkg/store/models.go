package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ContentModel struct {
	ID              string  `gorm:"primaryKey"`
	OwnerAccountID  *string `gorm:"index:idx_contents_owner_url"`
	URL             string  `gorm:"not null;index:idx_contents_owner_url"`
	Type            string  `gorm:"not null"`
	Title           string
	RawText         *string `gorm:"type:text"`
	TranscriptID    *string `gorm:"index"`
	Status          string  `gorm:"not null;index"`
	ErrorCode       string
	DurationSeconds *int
	SpeakerCount    *int
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (ContentModel) TableName() string { return "contents" }

type ModerationFlagModel struct {
	ID           string         `gorm:"primaryKey"`
	ContentID    *string        `gorm:"index"`
	Source       string         `gorm:"not null"`
	Severity     string         `gorm:"not null;index"`
	Categories   datatypes.JSON `gorm:"type:jsonb"`
	Reason       string         `gorm:"not null"`
	ContentHash  string         `gorm:"index"`
	TextPreview  string
	ReviewStatus string    `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (ModerationFlagModel) TableName() string { return "moderation_flags" }

type UsageCounterModel struct {
	AccountID string    `gorm:"primaryKey;uniqueIndex:idx_usage_key"`
	Period    string    `gorm:"primaryKey;uniqueIndex:idx_usage_key"`
	Field     string    `gorm:"primaryKey;uniqueIndex:idx_usage_key"`
	Count     int       `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (UsageCounterModel) TableName() string { return "usage_counters" }

type SummaryModel struct {
	ContentID   string    `gorm:"primaryKey"`
	Language    string    `gorm:"primaryKey"`
	SummaryText string    `gorm:"type:text"`
	Status      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (SummaryModel) TableName() string { return "summaries" }
