// messaging/redis_client.go
package messaging

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultStreamName    = "validation-jobs"
	DefaultConsumerGroup = "validation-workers"
)

// JobMessage is one spatial job on the stream: the run it belongs to plus
// the job identity the worker needs to rebuild it.
type JobMessage struct {
	RunID     string
	SpatialID int64
	Lon       float64
	Lat       float64
}

type MessageClient interface {
	PublishJob(ctx context.Context, msg JobMessage) error
	SubscribeToJobs(ctx context.Context, handler func(msg JobMessage)) error
	HealthCheck() error
	Close() error
}

type redisClient struct {
	client        *redis.Client
	streamName    string
	consumerGroup string
	consumerName  string
	logger        *zap.Logger
}

func NewRedisClient(url, password string, db int, streamName, consumerGroup string, logger *zap.Logger) (MessageClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &redis.Options{
		Addr:         url,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if err := createConsumerGroup(ctx, client, streamName, consumerGroup, logger); err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("Redis client initialized",
		zap.String("stream", streamName),
		zap.String("group", consumerGroup))

	return &redisClient{
		client:        client,
		streamName:    streamName,
		consumerGroup: consumerGroup,
		consumerName:  fmt.Sprintf("consumer-%d", time.Now().UnixNano()),
		logger:        logger,
	}, nil
}

func createConsumerGroup(ctx context.Context, client *redis.Client, streamName, consumerGroup string, logger *zap.Logger) error {
	err := client.XGroupCreateMkStream(ctx, streamName, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	if err == nil {
		logger.Info("created consumer group",
			zap.String("group", consumerGroup),
			zap.String("stream", streamName))
	} else {
		logger.Info("consumer group already exists", zap.String("group", consumerGroup))
	}

	return nil
}

func (c *redisClient) PublishJob(ctx context.Context, msg JobMessage) error {
	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.streamName,
		Values: map[string]interface{}{
			"run_id":     msg.RunID,
			"spatial_id": strconv.FormatInt(msg.SpatialID, 10),
			"lon":        strconv.FormatFloat(msg.Lon, 'f', -1, 64),
			"lat":        strconv.FormatFloat(msg.Lat, 'f', -1, 64),
			"created":    time.Now().UnixNano(),
		},
	}).Result()

	if err != nil {
		return fmt.Errorf("failed to publish to Redis Stream: %w", err)
	}

	c.logger.Debug("job published",
		zap.String("run_id", msg.RunID),
		zap.Int64("spatial_id", msg.SpatialID),
		zap.String("stream_id", id))
	return nil
}

func (c *redisClient) SubscribeToJobs(ctx context.Context, handler func(msg JobMessage)) error {
	c.logger.Info("consumer started listening for jobs", zap.String("consumer", c.consumerName))

	go c.processMessages(ctx, handler)

	return nil
}

func (c *redisClient) processMessages(ctx context.Context, handler func(msg JobMessage)) {
	blockTime := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped", zap.String("consumer", c.consumerName))
			return
		default:
			messages, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    c.consumerGroup,
				Consumer: c.consumerName,
				Streams:  []string{c.streamName, ">"},
				Count:    1,
				Block:    blockTime,
				NoAck:    false,
			}).Result()

			if err != nil {
				if err == redis.Nil || err == context.Canceled {
					continue
				}
				c.logger.Error("error reading from Redis Stream", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}

			for _, stream := range messages {
				for _, message := range stream.Messages {
					c.processMessage(ctx, message, handler)
				}
			}
		}
	}
}

func (c *redisClient) processMessage(ctx context.Context, message redis.XMessage, handler func(msg JobMessage)) {
	msg, err := decodeJobMessage(message)
	if err != nil {
		c.logger.Error("malformed job message, acknowledging and skipping",
			zap.String("stream_id", message.ID),
			zap.Error(err))
		c.ack(ctx, message.ID)
		return
	}

	c.logger.Debug("processing job",
		zap.String("consumer", c.consumerName),
		zap.String("run_id", msg.RunID),
		zap.Int64("spatial_id", msg.SpatialID),
		zap.String("stream_id", message.ID))

	handler(msg)

	c.ack(ctx, message.ID)
}

func (c *redisClient) ack(ctx context.Context, streamID string) {
	if err := c.client.XAck(ctx, c.streamName, c.consumerGroup, streamID).Err(); err != nil {
		c.logger.Error("failed to ACK message",
			zap.String("stream_id", streamID),
			zap.Error(err))
	}
}

func decodeJobMessage(message redis.XMessage) (JobMessage, error) {
	var msg JobMessage
	var ok bool
	if msg.RunID, ok = message.Values["run_id"].(string); !ok || msg.RunID == "" {
		return msg, fmt.Errorf("missing run_id")
	}

	raw, ok := message.Values["spatial_id"].(string)
	if !ok {
		return msg, fmt.Errorf("missing spatial_id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return msg, fmt.Errorf("bad spatial_id: %w", err)
	}
	msg.SpatialID = id

	if msg.Lon, err = parseFloatValue(message.Values, "lon"); err != nil {
		return msg, err
	}
	if msg.Lat, err = parseFloatValue(message.Values, "lat"); err != nil {
		return msg, err
	}
	return msg, nil
}

func parseFloatValue(values map[string]interface{}, key string) (float64, error) {
	raw, ok := values[key].(string)
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s: %w", key, err)
	}
	return v, nil
}

func (c *redisClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis ping failed: %w", err)
	}

	_, err := c.client.XInfoStream(ctx, c.streamName).Result()
	if err != nil && !strings.Contains(err.Error(), "no such key") {
		return fmt.Errorf("Redis stream check failed: %w", err)
	}

	return nil
}

func (c *redisClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
