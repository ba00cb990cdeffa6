// Package history stores thermostat readings in MongoDB.
package history

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/joshp123/gohome-besmart/internal/config"
)

// Reading is one translated poll result.
type Reading struct {
	Room               string    `bson:"room" json:"room"`
	TherID             string    `bson:"ther_id" json:"ther_id"`
	Timestamp          time.Time `bson:"ts" json:"ts"`
	CurrentTemperature float64   `bson:"current_temperature" json:"current_temperature"`
	OutdoorTemperature float64   `bson:"outdoor_temperature" json:"outdoor_temperature"`
	ComfortTemperature float64   `bson:"comfort_temperature" json:"comfort_temperature"`
	EcoTemperature     float64   `bson:"eco_temperature" json:"eco_temperature"`
	FrostTemperature   float64   `bson:"frost_temperature" json:"frost_temperature"`
	HvacMode           string    `bson:"hvac_mode" json:"hvac_mode"`
	HvacAction         string    `bson:"hvac_action" json:"hvac_action"`
	Preset             string    `bson:"preset" json:"preset"`
	Heating            bool      `bson:"heating" json:"heating"`
	LowBattery         bool      `bson:"low_battery" json:"low_battery"`
}

// Recorder persists readings.
type Recorder interface {
	Record(ctx context.Context, readings ...Reading) error
}

// Reader returns stored readings for a room, newest first.
type Reader interface {
	Latest(ctx context.Context, room string, limit int64) ([]Reading, error)
}

var (
	_ Recorder = (*MongoRecorder)(nil)
	_ Reader   = (*MongoRecorder)(nil)
)

// MongoRecorder writes readings to one collection.
type MongoRecorder struct {
	client     *mongo.Client
	database   string
	collection string
}

func NewMongoRecorder(ctx context.Context, cfg *config.HistoryConfig) (*MongoRecorder, error) {
	if cfg == nil || cfg.MongoURI == "" {
		return nil, fmt.Errorf("history.mongo_uri is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	log.WithFields(log.Fields{"database": cfg.Database, "collection": cfg.Collection}).Info("connected to mongo history store")
	return &MongoRecorder{client: client, database: cfg.Database, collection: cfg.Collection}, nil
}

func (r *MongoRecorder) Record(ctx context.Context, readings ...Reading) error {
	if len(readings) == 0 {
		return nil
	}

	documents := make([]any, 0, len(readings))
	for _, reading := range readings {
		documents = append(documents, reading)
	}

	insertCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	coll := r.client.Database(r.database).Collection(r.collection)
	if _, err := coll.InsertMany(insertCtx, documents); err != nil {
		return fmt.Errorf("insert readings: %w", err)
	}
	return nil
}

// Latest returns the most recent readings for a room, newest first.
func (r *MongoRecorder) Latest(ctx context.Context, room string, limit int64) ([]Reading, error) {
	coll := r.client.Database(r.database).Collection(r.collection)
	opts := options.Find().SetSort(bson.D{{Key: "ts", Value: -1}}).SetLimit(limit)

	cursor, err := coll.Find(ctx, bson.M{"room": room}, opts)
	if err != nil {
		return nil, fmt.Errorf("find readings: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Reading
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}
	return out, nil
}

func (r *MongoRecorder) Close(ctx context.Context) error {
	if r.client != nil {
		return r.client.Disconnect(ctx)
	}
	return nil
}
