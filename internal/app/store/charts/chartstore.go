// internal/app/store/charts/chartstore.go
package chartstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/rollchart/internal/app/system/htmlsanitize"
	"github.com/dalemusser/rollchart/internal/app/system/indexes"
	"github.com/dalemusser/rollchart/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNoClass is returned when a query is not scoped to a class.
var ErrNoClass = errors.New("chart query requires a class")

// Store reads and writes attendance sheets in the chart collection.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(indexes.ChartCollection)}
}

// Find returns the class's sheets matching f.
//
// With SortByPeriod the result is ordered by period ascending; otherwise it
// follows insertion order. Ties always break on _id so repeated queries
// return the same sequence.
func (s *Store) Find(ctx context.Context, classID string, f models.ChartFilter) ([]models.ChartRecord, error) {
	if classID == "" {
		return nil, ErrNoClass
	}

	filter := bson.M{"class": classID}
	if f.Date != "" {
		filter["date"] = f.Date
	}
	if f.Period != "" {
		filter["period"] = f.Period
	}

	sort := bson.D{{Key: "_id", Value: 1}}
	if f.SortByPeriod {
		sort = bson.D{{Key: "period", Value: 1}, {Key: "_id", Value: 1}}
	}

	cur, err := s.c.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("find charts for %q: %w", classID, err)
	}
	defer cur.Close(ctx)

	var out []models.ChartRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode charts for %q: %w", classID, err)
	}
	for i := range out {
		cleanMarks(out[i].List)
	}
	return out, nil
}

// InsertMany stores sheets in order and returns how many were written.
func (s *Store) InsertMany(ctx context.Context, recs []models.ChartRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(recs))
	for _, rec := range recs {
		if rec.Class == "" {
			return 0, ErrNoClass
		}
		rec.ID = primitive.NewObjectID()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if rec.List == nil {
			rec.List = []models.StudentMark{}
		}
		docs = append(docs, rec)
	}
	res, err := s.c.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if res != nil {
		return len(res.InsertedIDs), err
	}
	return 0, err
}

// DeleteClass removes every sheet for a class. Returns the number deleted.
func (s *Store) DeleteClass(ctx context.Context, classID string) (int64, error) {
	if classID == "" {
		return 0, ErrNoClass
	}
	res, err := s.c.DeleteMany(ctx, bson.M{"class": classID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func cleanMarks(list []models.StudentMark) {
	for i := range list {
		list[i].Name = htmlsanitize.PlainText(list[i].Name)
	}
}
