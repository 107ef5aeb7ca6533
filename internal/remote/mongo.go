package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/playperu/checkin/internal/checkin"
)

type groupDoc struct {
	ID                 string      `bson:"_id"`
	PrimaryContactName string      `bson:"primaryContactName"`
	ContactPhone       string      `bson:"contactPhone"`
	TableOrZoneLabel   string      `bson:"tableOrZoneLabel,omitempty"`
	Tickets            []ticketDoc `bson:"tickets"`
}

type ticketDoc struct {
	ID         string     `bson:"id"`
	TicketCode string     `bson:"ticketCode"`
	HolderName string     `bson:"holderName"`
	Category   string     `bson:"category,omitempty"`
	Status     string     `bson:"status"`
	RedeemedAt *time.Time `bson:"redeemedAt,omitempty"`
	RedeemedBy string     `bson:"redeemedBy,omitempty"`
}

func (d groupDoc) group() checkin.GuestGroup {
	g := checkin.GuestGroup{
		ID:                 d.ID,
		PrimaryContactName: d.PrimaryContactName,
		ContactPhone:       d.ContactPhone,
		TableOrZoneLabel:   d.TableOrZoneLabel,
		Tickets:            make([]checkin.Ticket, len(d.Tickets)),
	}
	for i, t := range d.Tickets {
		status := checkin.TicketStatus(t.Status)
		if status == "" {
			status = checkin.TicketPending
		}
		g.Tickets[i] = checkin.Ticket{
			ID:         t.ID,
			TicketCode: t.TicketCode,
			HolderName: t.HolderName,
			Category:   t.Category,
			Status:     status,
			RedeemedAt: t.RedeemedAt,
			RedeemedBy: t.RedeemedBy,
		}
	}
	return g
}

func docFromGroup(g checkin.GuestGroup) groupDoc {
	d := groupDoc{
		ID:                 g.ID,
		PrimaryContactName: g.PrimaryContactName,
		ContactPhone:       g.ContactPhone,
		TableOrZoneLabel:   g.TableOrZoneLabel,
		Tickets:            make([]ticketDoc, len(g.Tickets)),
	}
	for i, t := range g.Tickets {
		d.Tickets[i] = ticketDoc{
			ID:         t.ID,
			TicketCode: t.TicketCode,
			HolderName: t.HolderName,
			Category:   t.Category,
			Status:     string(t.Status),
			RedeemedAt: t.RedeemedAt,
			RedeemedBy: t.RedeemedBy,
		}
	}
	return d
}

// MongoStore keeps one document per guest group.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tickets.ticketCode", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating ticket code index: %w", err)
	}

	return &MongoStore{client: client, coll: coll}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ListGroups(ctx context.Context) ([]checkin.GuestGroup, error) {
	cur, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	var docs []groupDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding groups: %w", err)
	}

	groups := make([]checkin.GuestGroup, len(docs))
	for i, d := range docs {
		groups[i] = d.group()
	}
	return groups, nil
}

func (s *MongoStore) GetGroup(ctx context.Context, id string) (checkin.GuestGroup, error) {
	var d groupDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return checkin.GuestGroup{}, checkin.ErrNotFound
	}
	if err != nil {
		return checkin.GuestGroup{}, fmt.Errorf("getting group %q: %w", id, err)
	}
	return d.group(), nil
}

// RedeemTicket matches the ticket only while its status is pending, so the
// update is a no-op when another device got there first.
func (s *MongoStore) RedeemTicket(ctx context.Context, groupID, code string, at time.Time, by string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"_id": groupID,
			"tickets": bson.M{"$elemMatch": bson.M{
				"ticketCode": code,
				"status":     string(checkin.TicketPending),
			}},
		},
		bson.M{"$set": bson.M{
			"tickets.$.status":     string(checkin.TicketRedeemed),
			"tickets.$.redeemedAt": at.UTC(),
			"tickets.$.redeemedBy": by,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("redeeming %q in %q: %w", code, groupID, err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": groupID, "tickets.ticketCode": code})
	if err != nil {
		return false, fmt.Errorf("checking ticket %q: %w", code, err)
	}
	if n == 0 {
		return false, checkin.ErrNotFound
	}
	return false, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) PutGroup(ctx context.Context, g checkin.GuestGroup) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": g.ID}, docFromGroup(g), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("putting group %q: %w", g.ID, err)
	}
	return nil
}

var (
	_ Store  = (*MongoStore)(nil)
	_ Seeder = (*MongoStore)(nil)
)
