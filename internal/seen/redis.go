package seen

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"SocialSync/internal/model"
)

// RedisBackend 每个平台一个有序集合 <prefix>:seen:<platform>，score 为首次抓取时间（秒）
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "socialsync"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(platform model.PlatformType) string {
	return fmt.Sprintf("%s:seen:%s", b.prefix, platform)
}

func (b *RedisBackend) HasSeen(ctx context.Context, platform model.PlatformType, contentID string) (bool, error) {
	_, err := b.client.ZScore(ctx, b.key(platform), contentID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkSeen ZADD NX，已存在的成员不改分数
func (b *RedisBackend) MarkSeen(ctx context.Context, platform model.PlatformType, contentID string, at time.Time) error {
	return b.client.ZAddNX(ctx, b.key(platform), redis.Z{Score: float64(at.Unix()), Member: contentID}).Err()
}

// PruneSeenBefore 逐个平台删除 score 小于 cutoff 的成员
func (b *RedisBackend) PruneSeenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	upper := "(" + strconv.FormatInt(cutoff.Unix(), 10)
	var total int64
	for _, p := range model.KnownPlatforms {
		n, err := b.client.ZRemRangeByScore(ctx, b.key(p), "-inf", upper).Result()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
