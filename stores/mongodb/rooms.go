package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"whiteboard-server/core"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
)

type roomStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewRoomStore connects to MongoDB and ensures the unique roomId index.
func NewRoomStore(uri, database string) (core.RoomStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), pingTimeout)
	defer pingCancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(database).Collection("rooms")
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "roomId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create roomId index: %w", err)
	}

	logrus.WithFields(logrus.Fields{"uri": uri, "database": database}).Info("connected to MongoDB")
	return &roomStore{client: client, collection: collection}, nil
}

func (s *roomStore) FindRoom(ctx context.Context, roomID string) (*core.Room, error) {
	var room core.Room
	err := s.collection.FindOne(ctx, bson.M{"roomId": roomID}).Decode(&room)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, core.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to find room %s: %w", roomID, err)
	}
	return &room, nil
}

func (s *roomStore) CreateRoom(ctx context.Context, room *core.Room) error {
	_, err := s.collection.InsertOne(ctx, room)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return core.ErrRoomExists
		}
		return fmt.Errorf("failed to create room %s: %w", room.RoomID, err)
	}
	return nil
}

func (s *roomStore) AppendCommands(ctx context.Context, roomID string, commands []core.Command) error {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"roomId": roomID},
		bson.M{
			"$push": bson.M{"drawingData": bson.M{"$each": commands}},
			"$set":  bson.M{"lastActivity": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to append commands to room %s: %w", roomID, err)
	}
	if result.MatchedCount == 0 {
		return core.ErrRoomNotFound
	}
	return nil
}

func (s *roomStore) ReplaceCommands(ctx context.Context, roomID string, commands []core.Command) error {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"roomId": roomID},
		bson.M{"$set": bson.M{
			"drawingData":  commands,
			"lastActivity": time.Now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to replace commands in room %s: %w", roomID, err)
	}
	if result.MatchedCount == 0 {
		return core.ErrRoomNotFound
	}
	return nil
}

func (s *roomStore) TouchRoom(ctx context.Context, roomID string) error {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"roomId": roomID},
		bson.M{"$set": bson.M{"lastActivity": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to touch room %s: %w", roomID, err)
	}
	if result.MatchedCount == 0 {
		return core.ErrRoomNotFound
	}
	return nil
}

func (s *roomStore) ListRooms(ctx context.Context) ([]core.RoomSummary, error) {
	opts := options.Find().
		SetProjection(bson.M{"drawingData": 0}).
		SetSort(bson.D{{Key: "lastActivity", Value: -1}})

	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer cursor.Close(ctx)

	var summaries []core.RoomSummary
	for cursor.Next(ctx) {
		var room core.Room
		if err := cursor.Decode(&room); err != nil {
			logrus.WithError(err).Warn("skipping undecodable room document")
			continue
		}
		summaries = append(summaries, core.RoomSummary{
			RoomID:       room.RoomID,
			CreatedAt:    room.CreatedAt,
			LastActivity: room.LastActivity,
		})
	}
	return summaries, cursor.Err()
}
