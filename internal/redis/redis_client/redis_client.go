package redis_client

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (o Options) addr() string { return fmt.Sprintf("%s:%d", o.Host, o.Port) }

// returns a new Redis client, pinged
func NewRedisClient(o Options) (*redis.Client, error) {
	maxPool := runtime.NumCPU() * 8
	if maxPool > 512 {
		maxPool = 512
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     o.addr(),
		Password: o.Password,
		DB:       o.DB,
		PoolSize: maxPool,
	})

	ctx, cancelFunc := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFunc()
	if _, err := rc.Ping(ctx).Result(); err != nil {
		_ = rc.Close()
		err = errors.New("Redis connection failed: " + err.Error())
		zap.L().Error("redis_connect", zap.String("addr", o.addr()), zap.Error(err))
		return nil, err
	}
	return rc, nil
}
