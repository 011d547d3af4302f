// Package docstore MongoDB 存储：抓取结果集合与监控调度状态
package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"SocialSync/internal/config"
)

// Connect 建立连接并 ping，返回配置中的数据库
func Connect(ctx context.Context, cfg config.MongoConfig, logger *logrus.Logger) (*mongo.Client, *mongo.Database, error) {
	if cfg.URI == "" {
		return nil, nil, fmt.Errorf("未配置 mongo.uri")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetTimeout(timeout))
	if err != nil {
		return nil, nil, fmt.Errorf("连接MongoDB失败: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("MongoDB ping 失败: %w", err)
	}
	logger.WithField("database", cfg.Database).Info("MongoDB连接成功")
	return client, client.Database(cfg.Database), nil
}

// setFields 把记录转成 $set 文档，去掉 omit 中的字段
func setFields(v any, omit ...string) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for _, k := range omit {
		delete(m, k)
	}
	return m, nil
}

// upsertOne $set 可变字段，$setOnInsert 首次入库时间
func upsertOne(ctx context.Context, coll *mongo.Collection, filter bson.D, doc any, ingestedAt time.Time, extra bson.M) error {
	set, err := setFields(doc, "ingested_at")
	if err != nil {
		return fmt.Errorf("编码文档失败: %w", err)
	}
	for k, v := range extra {
		set[k] = v
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"ingested_at": ingestedAt},
	}
	if _, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", coll.Name(), err)
	}
	return nil
}

// ensureIndexes 建唯一索引（重复调用无副作用）
func ensureIndexes(ctx context.Context, coll *mongo.Collection, unique []string, extra ...mongo.IndexModel) error {
	keys := bson.D{}
	for _, k := range unique {
		keys = append(keys, bson.E{Key: k, Value: 1})
	}
	models := append([]mongo.IndexModel{{Keys: keys, Options: options.Index().SetUnique(true)}}, extra...)
	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("创建索引 %s 失败: %w", coll.Name(), err)
	}
	return nil
}
