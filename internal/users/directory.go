package users

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Profile struct {
	ID          string `json:"id" bson:"_id"`
	DisplayName string `json:"name" bson:"name"`
	AvatarURL   string `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
}

// Directory resolves user ids to display identity. Lookups never fail for
// unknown users: the id stands in for the name.
type Directory interface {
	Profile(ctx context.Context, id string) Profile
}

func fallback(id string) Profile {
	return Profile{ID: id, DisplayName: id}
}

// StaticDirectory serves a fixed set of profiles.
type StaticDirectory map[string]Profile

func (d StaticDirectory) Profile(_ context.Context, id string) Profile {
	if p, ok := d[id]; ok {
		if p.DisplayName == "" {
			p.DisplayName = id
		}
		p.ID = id
		return p
	}
	return fallback(id)
}

// MongoDirectory reads the users collection owned by the user service and
// caches hits for ttl.
type MongoDirectory struct {
	coll  *mongo.Collection
	cache *lru.Cache
	ttl   time.Duration
	log   *zap.SugaredLogger
}

type cached struct {
	p   Profile
	exp time.Time
}

func NewMongoDirectory(coll *mongo.Collection, size int, ttl time.Duration, log *zap.SugaredLogger) (*MongoDirectory, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MongoDirectory{coll: coll, cache: c, ttl: ttl, log: log}, nil
}

func (d *MongoDirectory) Profile(ctx context.Context, id string) Profile {
	if v, ok := d.cache.Get(id); ok {
		if e := v.(cached); time.Now().Before(e.exp) {
			return e.p
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var filter bson.M
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		filter = bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	} else {
		filter = bson.M{"_id": id}
	}

	var doc struct {
		Name      string `bson:"name"`
		AvatarURL string `bson:"avatar_url"`
	}
	err := d.coll.FindOne(ctx, filter).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return fallback(id)
	case err != nil:
		d.log.Warnw("profile lookup failed", "user", id, "err", err)
		return fallback(id)
	}

	p := Profile{ID: id, DisplayName: doc.Name, AvatarURL: doc.AvatarURL}
	if p.DisplayName == "" {
		p.DisplayName = id
	}
	d.cache.Add(id, cached{p: p, exp: time.Now().Add(d.ttl)})
	return p
}
