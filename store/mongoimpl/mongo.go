package mongoimpl

import (
	"context"
	"time"

	"gitee.com/Ljolan/si-im/config"
	"gitee.com/Ljolan/si-im/store"
	"gitee.com/Ljolan/si-im/store/po"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const historyCollection = "im_message_history"

type historyStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewHistoryStore 连接 mongo，消息按 message_key 去重写入
func NewHistoryStore(ctx context.Context, cfg config.Mongo) (store.HistoryStore, error) {
	opts := clientOptions(cfg)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	coll := client.Database(cfg.Database).Collection(historyCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &historyStore{client: client, coll: coll}, nil
}

func clientOptions(cfg config.Mongo) *options.ClientOptions {
	opts := options.Client().ApplyURI(cfg.Source)
	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MaxConnIdleTime > 0 {
		opts.SetMaxConnIdleTime(time.Duration(cfg.MaxConnIdleTime) * time.Second)
	}
	return opts
}

func (h *historyStore) Save(ctx context.Context, rec *store.HistoryRecord) error {
	filter, update := upsertDoc(po.NewMessageHistory(rec))
	_, err := h.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// 已存在的消息不覆盖
func upsertDoc(m *po.MessageHistory) (bson.M, bson.M) {
	return bson.M{"message_key": m.MessageKey}, bson.M{"$setOnInsert": m}
}

func (h *historyStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.client.Disconnect(ctx)
}
