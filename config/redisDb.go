package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

// GetRedisDB returns nil when redis is not configured. Sessions, caches and
// locks all degrade to local behaviour in that case.
func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// SetRedisDB replaces the global client and lock client. Passing nil disables redis.
func SetRedisDB(client *redis.Client) {
	rdb = client
	if client == nil {
		locker = nil
		return
	}
	locker = redislock.New(client)
}

// GetRedisObject decodes the JSON stored at key into dest. A missing key is not an error.
func GetRedisObject(ctx context.Context, key string, dest any) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	raw, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func SetRedisObject(ctx context.Context, key string, obj any, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, raw, exp).Err()
}

func RemoveRedisKey(ctx context.Context, keys ...string) error {
	if rdb == nil || len(keys) == 0 {
		return nil
	}
	return rdb.Del(ctx, keys...).Err()
}

func redisOptionsFromEnv() *redis.Options {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		addr = "localhost:6379"
	}
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		PoolSize: 50,
	}
}

// ConnectRedisWithRetry blocks until redis answers a PING. Call it after the HTTP
// server is listening.
func ConnectRedisWithRetry() {
	opts := redisOptionsFromEnv()
	sleep := time.Second
	for attempt := 1; ; attempt++ {
		client := redis.NewClient(opts)
		err := client.Ping(context.Background()).Err()
		if err == nil {
			SetRedisDB(client)
			GetLogger().WithFields(logrus.Fields{"addr": opts.Addr, "attempt": attempt}).Info("connected to redis")
			return
		}
		_ = client.Close()
		GetLogger().WithFields(logrus.Fields{"addr": opts.Addr, "attempt": attempt, "retry_in": sleep.String()}).Warn("redis connect failed: " + err.Error())
		time.Sleep(sleep)
		if sleep < 30*time.Second {
			sleep *= 2
		}
	}
}
