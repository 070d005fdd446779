// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store"
)

var logger = loggo.GetLogger("pulsetrack.store.mongo")

// Database names. Each network has its own collection in each database.
const (
	SubjectsDB = "subj"
	ListsDB    = "lists"
)

const connectTimeout = 5 * time.Second

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// subject is a tracked subject as saved to MongoDB.
type subject struct {
	ID      primitive.ObjectID `bson:"_id,omitempty"`
	Addr    string             `bson:"address"`
	AddedAt time.Time          `bson:"addedAt"`
}

type lists struct {
	Allowlist []string `bson:"allowlist"`
	Denylist  []string `bson:"denylist"`
}

// New returns a Mongo client connected to the MongoDB database at uri.
func New(uri string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	c, err := mgo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Annotate(err, "mongo: connect")
	}

	if err = c.Ping(ctx, nil); err != nil {
		_ = c.Disconnect(context.Background())

		return nil, errors.Annotate(err, "mongo: ping")
	}

	return &Mongo{c: c}, nil
}

// Close will close the database connection. Must be called at termination time.
func (m *Mongo) Close() error {
	return m.c.Disconnect(context.Background())
}

// AddSubject saves a subject if it does not already exist.
func (m *Mongo) AddSubject(ctx context.Context, net, addr string) error {
	col := m.c.Database(SubjectsDB).Collection(net)

	var s subject

	err := col.FindOne(ctx, bson.M{"address": addr}).Decode(&s)
	if errors.Is(err, mgo.ErrNoDocuments) {
		if _, err = col.InsertOne(ctx, subject{Addr: addr, AddedAt: time.Now().UTC()}); err != nil {
			return errors.Annotatef(err, "mongo: inserting subject %q", addr)
		}

		return nil
	}

	if err != nil {
		return errors.Annotatef(err, "mongo: finding subject %q", addr)
	}

	logger.Debugf("[%s] subject %s was already saved", net, addr)

	return nil
}

// RemoveSubject deletes a subject.
func (m *Mongo) RemoveSubject(ctx context.Context, net, addr string) error {
	res, err := m.c.Database(SubjectsDB).Collection(net).DeleteOne(ctx, bson.M{"address": addr})
	if err != nil {
		return errors.Trace(err)
	}

	if res.DeletedCount != 1 {
		return store.ErrSubjectNotFound
	}

	return nil
}

// GetSubjects returns the subjects of network net in insertion order.
func (m *Mongo) GetSubjects(ctx context.Context, net string) ([]string, error) {
	cur, err := m.c.Database(SubjectsDB).Collection(net).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Annotate(err, "mongo: finding subjects")
	}
	defer cur.Close(ctx)

	out := []string{}

	for cur.Next(ctx) {
		var s subject
		if err := cur.Decode(&s); err != nil {
			logger.Warningf("[%s] skipping undecodable subject: %v", net, err)

			continue
		}

		out = append(out, s.Addr)
	}

	return out, errors.Trace(cur.Err())
}

// SaveLists saves the filter lists of network net.
func (m *Mongo) SaveLists(ctx context.Context, net string, l model.FilterLists) error {
	_, err := m.c.Database(ListsDB).Collection(net).UpdateOne(ctx,
		bson.D{}, // filter
		bson.D{ // update
			{
				Key: "$set", Value: bson.D{
					{Key: "allowlist", Value: nonNil(l.Allowlist)},
					{Key: "denylist", Value: nonNil(l.Denylist)},
				},
			},
		},
		options.Update().SetUpsert(true))

	return errors.Trace(err)
}

// LoadLists loads the filter lists of network net.
func (m *Mongo) LoadLists(ctx context.Context, net string) (model.FilterLists, error) {
	var l lists

	err := m.c.Database(ListsDB).Collection(net).FindOne(ctx, bson.D{}).Decode(&l)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return model.FilterLists{}, store.ErrDataNotFound
	}

	if err != nil {
		return model.FilterLists{}, errors.Trace(err)
	}

	return model.FilterLists{Allowlist: l.Allowlist, Denylist: l.Denylist}, nil
}

// drop deletes every document of network net.
func (m *Mongo) drop(ctx context.Context, net string) error {
	if err := m.c.Database(SubjectsDB).Collection(net).Drop(ctx); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(m.c.Database(ListsDB).Collection(net).Drop(ctx))
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}

	return ss
}
