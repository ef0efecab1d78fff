// internal/domain/models/chart.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChartRecord is one attendance sheet: the marks taken for a class on a
// given date and period. Records live in the "chart" collection and are
// scoped to a class by the Class field.
type ChartRecord struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Class  string             `bson:"class" json:"class" validate:"required"`
	Date   string             `bson:"date" json:"date" validate:"required"`
	Period string             `bson:"period" json:"period" validate:"required,oneof=1 2 3 4 5 6"`

	// List keeps the order the marks were taken in. Rolls are unique.
	List []StudentMark `bson:"list" json:"list" validate:"unique=Roll,dive"`

	CreatedAt time.Time `bson:"created_at,omitempty" json:"created_at,omitempty"`
}

// StudentMark is a single student's present/absent mark on a chart.
type StudentMark struct {
	Roll   int    `bson:"roll" json:"roll" validate:"gte=1"`
	Name   string `bson:"name" json:"name" validate:"required"`
	Absent bool   `bson:"absent" json:"absent"`
}

// ChartFilter narrows a chart query within one class.
// Empty Date or Period means no equality filter on that field.
type ChartFilter struct {
	Date         string
	Period       string
	SortByPeriod bool // ascending by period
}

// Periods is the fixed day schedule offered before a date narrows it.
var Periods = []string{"1", "2", "3", "4", "5", "6"}
