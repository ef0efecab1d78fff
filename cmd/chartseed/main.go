// Command chartseed validates attendance sheets from a JSON file and loads
// them into the chart collection.
//
//	chartseed -file charts.json [-uri mongodb://localhost:27017] [-db rollchart] [-replace] [-dry-run]
//
// The file holds a JSON array of records:
//
//	[{"class":"7a","date":"2024-01-02","period":"1","list":[{"roll":1,"name":"Asha","absent":false}]}]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	chartstore "github.com/dalemusser/rollchart/internal/app/store/charts"
	"github.com/dalemusser/rollchart/internal/app/system/chartimport"
	"github.com/dalemusser/rollchart/internal/app/system/indexes"
	"github.com/dalemusser/rollchart/internal/app/system/timeouts"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

type seedFlags struct {
	file    string
	uri     string
	db      string
	replace bool
	dryRun  bool
}

func main() {
	var opts seedFlags
	flag.StringVar(&opts.file, "file", "", "JSON file with an array of chart records (required)")
	flag.StringVar(&opts.uri, "uri", envOr("ROLLCHART_MONGO_URI", "mongodb://localhost:27017"), "MongoDB connection URI")
	flag.StringVar(&opts.db, "db", envOr("ROLLCHART_MONGO_DATABASE", "rollchart"), "MongoDB database name")
	flag.BoolVar(&opts.replace, "replace", false, "delete existing sheets of every class in the file first")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "validate only, do not write")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), opts, logger); err != nil {
		logger.Error("chart seed failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedFlags, logger *zap.Logger) error {
	if opts.file == "" {
		flag.Usage()
		return errors.New("-file is required")
	}

	f, err := os.Open(opts.file)
	if err != nil {
		return err
	}
	recs, err := chartimport.Decode(f)
	f.Close()
	if err != nil {
		return err
	}

	val, err := chartimport.NewValidator()
	if err != nil {
		return err
	}
	if problems := val.Validate(recs); len(problems) > 0 {
		for _, p := range problems {
			logger.Warn("invalid chart record",
				zap.Int("index", p.Index),
				zap.String("field", p.Field),
				zap.String("problem", p.Message))
		}
		return fmt.Errorf("%d problem(s) in %s", len(problems), opts.file)
	}

	classes := chartimport.Classes(recs)
	logger.Info("chart records valid",
		zap.Int("records", len(recs)),
		zap.Strings("classes", classes))
	if opts.dryRun {
		return nil
	}

	if err := wafflemongo.ValidateURI(opts.uri); err != nil {
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	connCtx, cancel := timeouts.WithTimeout(ctx, timeouts.Batch(), logger, "chart seed connect")
	defer cancel()
	client, err := mongo.Connect(connCtx, options.Client().ApplyURI(opts.uri))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	if err := client.Ping(connCtx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(opts.db)
	if err := indexes.EnsureAll(connCtx, db, logger); err != nil {
		return err
	}

	store := chartstore.New(db)

	batchCtx, cancelBatch := timeouts.WithTimeout(ctx, timeouts.Batch(), logger, "chart seed insert")
	defer cancelBatch()

	if opts.replace {
		for _, class := range classes {
			n, err := store.DeleteClass(batchCtx, class)
			if err != nil {
				return fmt.Errorf("clear class %q: %w", class, err)
			}
			logger.Info("cleared class", zap.String("class", class), zap.Int64("deleted", n))
		}
	}

	n, err := store.InsertMany(batchCtx, recs)
	if err != nil {
		return fmt.Errorf("insert charts (%d written): %w", n, err)
	}
	logger.Info("chart records loaded", zap.Int("inserted", n), zap.String("database", opts.db))
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
