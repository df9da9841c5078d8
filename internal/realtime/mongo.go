package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Notifier carries change notifications between store instances.
type Notifier interface {
	Publish(ctx context.Context, path string) error
	Listen(ctx context.Context, fn func(path string)) error
}

// MongoStore keeps one document per node: {_id: path, parent, key, data}.
// Without a Notifier only subscribers in this process see changes.
type MongoStore struct {
	coll     *mongo.Collection
	keys     *keyGen
	hub      *hub
	notifier Notifier
	log      *zap.SugaredLogger
}

type node struct {
	ID     string   `bson:"_id"`
	Parent string   `bson:"parent"`
	Key    string   `bson:"key"`
	Data   bson.Raw `bson:"data"`
}

func NewMongoStore(coll *mongo.Collection, notifier Notifier, log *zap.SugaredLogger) *MongoStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ix := mongo.IndexModel{
		Keys:    bson.D{{Key: "parent", Value: 1}, {Key: "key", Value: 1}},
		Options: options.Index().SetName("parent_key_idx"),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := coll.Indexes().CreateOne(ctx, ix); err != nil {
		log.Warnw("create node index", "err", err)
	}
	s := &MongoStore{coll: coll, keys: newKeyGen(nil), notifier: notifier, log: log}
	s.hub = newHub(s.Get, log)
	return s
}

// Run relays notifications from other instances until ctx ends.
func (s *MongoStore) Run(ctx context.Context) error {
	if s.notifier == nil {
		<-ctx.Done()
		return nil
	}
	return s.notifier.Listen(ctx, s.hub.notify)
}

func (s *MongoStore) changed(ctx context.Context, path string) {
	if s.notifier == nil {
		s.hub.notify(path)
		return
	}
	if err := s.notifier.Publish(ctx, path); err != nil {
		// local subscribers still hear about it
		s.log.Warnw("publish change", "path", path, "err", err)
		s.hub.notify(path)
	}
}

func toDoc(value any) (bson.Raw, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var doc bson.Raw
	if err := bson.UnmarshalExtJSON(b, false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDoc(doc bson.Raw) (json.RawMessage, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	return bson.MarshalExtJSON(doc, false, false)
}

func (s *MongoStore) Push(ctx context.Context, path string, value any) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	key, err := s.keys.next()
	if err != nil {
		return "", fmt.Errorf("push key: %w", err)
	}
	doc, err := toDoc(value)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	full := Join(path, key)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, node{ID: full, Parent: path, Key: key, Data: doc}); err != nil {
		return "", err
	}
	s.changed(ctx, full)
	return key, nil
}

func (s *MongoStore) Set(ctx context.Context, path string, value any) error {
	if err := validatePath(path); err != nil {
		return err
	}
	doc, err := toDoc(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	parent, key := parentOf(path)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": path},
		node{ID: path, Parent: parent, Key: key, Data: doc},
		options.Replace().SetUpsert(true))
	if err != nil {
		return err
	}
	s.changed(ctx, path)
	return nil
}

// Update sets every field with one $set on a single document, so readers see
// all of them or none.
func (s *MongoStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if err := validateFields(fields); err != nil {
		return err
	}
	set := bson.M{}
	for k, v := range fields {
		set["data."+k] = v
	}
	parent, key := parentOf(path)
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"parent": parent, "key": key},
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": path}, update, options.Update().SetUpsert(true)); err != nil {
		return err
	}
	s.changed(ctx, path)
	return nil
}

// UpdateIfNewer filters on the guard field so the check and the write happen
// in one server-side step. When the node exists with a newer guard the upsert
// collides on _id and the write is reported as skipped.
func (s *MongoStore) UpdateIfNewer(ctx context.Context, path, field string, at int64, fields map[string]any) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	if err := validateFields(fields); err != nil {
		return false, err
	}
	if field == "" || strings.ContainsAny(field, "./$") {
		return false, fmt.Errorf("invalid guard field %q", field)
	}
	set := bson.M{}
	for k, v := range fields {
		set["data."+k] = v
	}
	parent, key := parentOf(path)
	guard := "data." + field
	filter := bson.M{
		"_id": path,
		"$or": bson.A{
			bson.M{guard: bson.M{"$lte": at}},
			bson.M{guard: bson.M{"$exists": false}},
		},
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"parent": parent, "key": key},
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.changed(ctx, path)
	return true, nil
}

func (s *MongoStore) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := validatePath(path); err != nil {
		return Snapshot{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	snap := Snapshot{Path: path}
	var self node
	err := s.coll.FindOne(ctx, bson.M{"_id": path}).Decode(&self)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return Snapshot{}, err
	default:
		if snap.Value, err = fromDoc(self.Data); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	cur, err := s.coll.Find(ctx, bson.M{"parent": path}, options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
	if err != nil {
		return Snapshot{}, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var n node
		if err := cur.Decode(&n); err != nil {
			return Snapshot{}, err
		}
		v, err := fromDoc(n.Data)
		if err != nil {
			s.log.Warnw("skip undecodable node", "path", n.ID, "err", err)
			continue
		}
		snap.Children = append(snap.Children, Child{Key: n.Key, Value: v})
	}
	return snap, cur.Err()
}

func (s *MongoStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	return s.hub.subscribe(ctx, path, fn)
}
