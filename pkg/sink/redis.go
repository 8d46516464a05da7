// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

// Record payload encodings
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// RedisConfig selects the server and the keys records go to.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string // pub/sub channel
	List     string // history list key; empty disables history
	History  int    // records kept in the list
	Format   string // json or cbor
	Timeout  time.Duration
}

// DefaultRedisConfig returns the local-server defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:    "localhost:6379",
		Channel: "m2000:records",
		List:    "m2000:history",
		History: 1000,
		Format:  FormatJSON,
		Timeout: 2 * time.Second,
	}
}

// EncodeRecord encodes rec in the named format.
func EncodeRecord(rec m2000.Record, format string) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.Marshal(rec)
	case FormatCBOR:
		return m2000.EncodeRecordCBOR(rec)
	}
	return nil, fmt.Errorf("unknown record format %q", format)
}

// Redis publishes every record on a channel and keeps a capped history list.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
	log    *logrus.Entry
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig, log *logrus.Entry) (*Redis, error) {
	if _, err := EncodeRecord(m2000.Record{}, cfg.Format); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisConfig().Timeout
	}
	if log == nil {
		log = discardLogger()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		MaxRetries:   -1,
	})

	pctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	log.WithFields(logrus.Fields{"addr": cfg.Addr, "channel": cfg.Channel}).Info("redis connected")
	return &Redis{client: client, cfg: cfg, log: log}, nil
}

// Write publishes rec. A failed history append is logged, not returned.
func (r *Redis) Write(rec m2000.Record) error {
	data, err := EncodeRecord(rec, r.cfg.Format)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	if err := r.client.Publish(ctx, r.cfg.Channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}
	if r.cfg.List == "" || r.cfg.History <= 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.cfg.List, data)
	pipe.LTrim(ctx, r.cfg.List, 0, int64(r.cfg.History-1))
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.WithError(err).Warn("failed to append record history")
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
