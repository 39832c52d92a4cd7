package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/CedrosPay/terminal/internal/metrics"
)

// MongoDBStore implements Store using MongoDB.
type MongoDBStore struct {
	client  *mongo.Client
	orders  *mongo.Collection
	timer   metrics.StoreTimer
}

type mongoOrder struct {
	ID            string            `bson:"_id"`
	Key           string            `bson:"order_key"`
	Total         string            `bson:"total"`
	Currency      string            `bson:"currency"`
	Status        string            `bson:"status"`
	TransactionID string            `bson:"transaction_id"`
	PaidAt        *time.Time        `bson:"paid_at,omitempty"`
	PaymentMethod string            `bson:"payment_method"`
	Captured      bool              `bson:"captured"`
	PaymentMeta   map[string]string `bson:"payment_meta"`
	Notes         []Note            `bson:"notes"`
	CreatedAt     time.Time         `bson:"created_at"`
	UpdatedAt     time.Time         `bson:"updated_at"`
}

// NewMongoDBStore connects to MongoDB and ensures the collection indexes exist.
func NewMongoDBStore(ctx context.Context, connectionString, database, collection string, m *metrics.Metrics) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if database == "" {
		database = "cedros_terminal"
	}
	if collection == "" {
		collection = "terminal_orders"
	}
	store := &MongoDBStore{
		client:  client,
		orders:  client.Database(database).Collection(collection),
		timer:   m.StoreTimer("mongodb"),
	}

	_, err = store.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "payment_meta." + MetaPaymentIntentID, Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create order indexes: %w", err)
	}
	return store, nil
}

func (s *MongoDBStore) GetOrder(ctx context.Context, id string) (Order, error) {
	defer s.timer.Start("get_order")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var doc mongoOrder
	err := s.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return doc.toOrder()
}

func (s *MongoDBStore) SaveOrder(ctx context.Context, order Order) error {
	if err := prepareForSave(&order); err != nil {
		return err
	}
	defer s.timer.Start("save_order")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	doc := fromOrder(order)
	update := bson.M{
		"$set": bson.M{
			"order_key":      doc.Key,
			"total":          doc.Total,
			"currency":       doc.Currency,
			"status":         doc.Status,
			"transaction_id": doc.TransactionID,
			"paid_at":        doc.PaidAt,
			"payment_method": doc.PaymentMethod,
			"captured":       doc.Captured,
			"payment_meta":   doc.PaymentMeta,
			"updated_at":     doc.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"notes":      doc.Notes,
			"created_at": doc.CreatedAt,
		},
	}
	_, err := s.orders.UpdateOne(ctx, bson.M{"_id": doc.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	return nil
}

// SavePayment updates the payment fields with a single filtered $set. With IfUnpaid the
// paid check is part of the filter.
func (s *MongoDBStore) SavePayment(ctx context.Context, orderID string, update PaymentUpdate) (Order, bool, error) {
	if err := update.Record.Validate(); err != nil {
		return Order{}, false, err
	}

	filter := bson.M{"_id": orderID}
	if update.IfUnpaid {
		filter["paid_at"] = nil
		filter["status"] = bson.M{"$nin": bson.A{string(StatusProcessing), string(StatusCompleted)}}
		filter["payment_meta."+MetaPaymentStatus] = bson.M{"$ne": string(PaymentStatusSucceeded)}
	}
	set := bson.M{
		"payment_meta": update.Record.Meta(),
		"updated_at":   time.Now().UTC(),
	}
	if update.TransactionID != "" {
		set["transaction_id"] = update.TransactionID
		set["captured"] = update.Captured
	}
	if update.MarkFailed {
		set["status"] = string(StatusFailed)
	}

	stop := s.timer.Start("save_payment")
	qctx, cancel := withQueryTimeout(ctx)
	res, err := s.orders.UpdateOne(qctx, filter, bson.M{"$set": set})
	cancel()
	stop()
	if err != nil {
		return Order{}, false, fmt.Errorf("save payment of order %s: %w", orderID, err)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, false, err
	}
	return order, res.MatchedCount > 0, nil
}

func (s *MongoDBStore) AddNote(ctx context.Context, orderID string, note Note) error {
	defer s.timer.Start("add_note")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	res, err := s.orders.UpdateOne(ctx, bson.M{"_id": orderID}, bson.M{
		"$push": bson.M{"notes": note},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("add note to order %s: %w", orderID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func fromOrder(o Order) mongoOrder {
	notes := o.Notes
	if notes == nil {
		notes = []Note{}
	}
	return mongoOrder{
		ID:            o.ID,
		Key:           o.Key,
		Total:         o.Total.String(),
		Currency:      o.Currency,
		Status:        string(o.Status),
		TransactionID: o.TransactionID,
		PaidAt:        o.PaidAt,
		PaymentMethod: o.PaymentMethod,
		Captured:      o.Captured,
		PaymentMeta:   o.Payment.Meta(),
		Notes:         notes,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func (d mongoOrder) toOrder() (Order, error) {
	total, err := decimal.NewFromString(d.Total)
	if err != nil {
		return Order{}, fmt.Errorf("parse order total %q: %w", d.Total, err)
	}
	record, err := RecordFromMeta(d.PaymentMeta)
	if err != nil {
		return Order{}, err
	}
	var paidAt *time.Time
	if d.PaidAt != nil {
		t := d.PaidAt.UTC()
		paidAt = &t
	}
	return Order{
		ID:            d.ID,
		Key:           d.Key,
		Total:         total,
		Currency:      d.Currency,
		Status:        Status(d.Status),
		TransactionID: d.TransactionID,
		PaidAt:        paidAt,
		PaymentMethod: d.PaymentMethod,
		Captured:      d.Captured,
		Payment:       record,
		Notes:         d.Notes,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}
