// Package relay forwards suggestion events between processes serving the
// same documents over Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"chronicle/collab/internal/suggestion"
)

const channelPrefix = "collab:room:"

// Envelope is the message published on a document channel.
type Envelope struct {
	Origin     string          `json:"origin"`
	DocumentID string          `json:"documentId"`
	Payload    json.RawMessage `json:"payload"`
	Suggestion suggestion.Edit `json:"suggestion"`
}

// Handler receives events published by other nodes.
type Handler func(ctx context.Context, documentID string, payload []byte, edit suggestion.Edit) error

type Redis struct {
	client *redis.Client
	nodeID string
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL, nodeID string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client, nodeID), nil
}

func NewRedisWithClient(client *redis.Client, nodeID string) *Redis {
	return &Redis{client: client, nodeID: nodeID}
}

func Channel(documentID string) string {
	return channelPrefix + documentID
}

func (r *Redis) NodeID() string {
	return r.nodeID
}

func (r *Redis) Publish(ctx context.Context, documentID string, payload []byte, edit suggestion.Edit) error {
	data, err := json.Marshal(Envelope{
		Origin:     r.nodeID,
		DocumentID: documentID,
		Payload:    payload,
		Suggestion: edit,
	})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, Channel(documentID), data).Err(); err != nil {
		return fmt.Errorf("publish relay envelope: %w", err)
	}
	return nil
}

// Subscription delivers relayed events until Close is called.
type Subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Subscribe listens on every document channel. It returns once Redis has
// confirmed the subscription; envelopes from this node are skipped.
func (r *Redis) Subscribe(ctx context.Context, handler Handler) (*Subscription, error) {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe relay channels: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{pubsub: pubsub, cancel: cancel}
	messages := pubsub.Channel()
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				r.dispatch(runCtx, msg, handler)
			}
		}
	}()
	return sub, nil
}

func (r *Redis) dispatch(ctx context.Context, msg *redis.Message, handler Handler) {
	var envelope Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
		log.Printf("relay: decode message on %s: %v", msg.Channel, err)
		return
	}
	if envelope.Origin == r.nodeID {
		return
	}
	documentID := envelope.DocumentID
	if documentID == "" {
		documentID = strings.TrimPrefix(msg.Channel, channelPrefix)
	}
	if err := handler(ctx, documentID, envelope.Payload, envelope.Suggestion); err != nil {
		log.Printf("relay: deliver document=%s origin=%s: %v", documentID, envelope.Origin, err)
	}
}

func (s *Subscription) Close() error {
	s.cancel()
	err := s.pubsub.Close()
	s.wg.Wait()
	return err
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
