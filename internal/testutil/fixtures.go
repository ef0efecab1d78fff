package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/rollchart/internal/app/system/indexes"
	"github.com/dalemusser/rollchart/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// CreateChart inserts one attendance sheet for class/date/period.
// Records created later sort after earlier ones with the same period.
func (f *Fixtures) CreateChart(ctx context.Context, class, date, period string, list ...models.StudentMark) models.ChartRecord {
	f.t.Helper()

	if list == nil {
		list = []models.StudentMark{}
	}
	rec := models.ChartRecord{
		ID:        primitive.NewObjectID(),
		Class:     class,
		Date:      date,
		Period:    period,
		List:      list,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := f.db.Collection(indexes.ChartCollection).InsertOne(ctx, rec); err != nil {
		f.t.Fatalf("failed to create test chart: %v", err)
	}
	return rec
}

// Mark is shorthand for building a StudentMark in tests.
func Mark(roll int, name string, absent bool) models.StudentMark {
	return models.StudentMark{Roll: roll, Name: name, Absent: absent}
}
