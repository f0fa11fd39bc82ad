package presence

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

var validNATSKey = regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)

// NATSConfig configures a NATSStore.
type NATSConfig struct {
	URL    string
	Bucket string

	// TTL expires entries left behind by a crashed process. Zero keeps them.
	TTL time.Duration
}

// NATSStore keeps presence entries in a JetStream key-value bucket.
type NATSStore struct {
	conn *nats.Conn
	kv   nats.KeyValue
}

// NewNATSStore connects to NATS and binds (or creates) the presence bucket.
func NewNATSStore(cfg NATSConfig, logger *slog.Logger) (*NATSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("parley-presence"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  cfg.Bucket,
			History: 1,
			TTL:     cfg.TTL,
			Storage: nats.MemoryStorage,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind presence bucket %s: %w", cfg.Bucket, err)
	}
	return &NATSStore{conn: nc, kv: kv}, nil
}

// natsKey maps a presence key onto the bucket's key alphabet. The ':' of the
// "active:" prefix becomes '.', and anything else outside the alphabet is
// base64url encoded.
func natsKey(key string) string {
	dotted := strings.ReplaceAll(key, ":", ".")
	if validNATSKey.MatchString(dotted) && !strings.HasPrefix(dotted, ".") && !strings.HasSuffix(dotted, ".") {
		return dotted
	}
	return "b64." + base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (s *NATSStore) Get(_ context.Context, key string) (string, error) {
	entry, err := s.kv.Get(natsKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("nats kv get: %w", err)
	}
	return string(entry.Value()), nil
}

func (s *NATSStore) Set(_ context.Context, key, value string) error {
	if _, err := s.kv.Put(natsKey(key), []byte(value)); err != nil {
		return fmt.Errorf("nats kv put: %w", err)
	}
	return nil
}

func (s *NATSStore) Delete(_ context.Context, key string) error {
	if err := s.kv.Delete(natsKey(key)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("nats kv delete: %w", err)
	}
	return nil
}

func (s *NATSStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	k := natsKey(key)
	entry, err := s.kv.Get(k)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("nats kv get: %w", err)
	}
	if string(entry.Value()) != expected {
		return false, nil
	}
	if err := s.kv.Delete(k, nats.LastRevision(entry.Revision())); err != nil {
		var apiErr *nats.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence {
			return false, nil
		}
		return false, fmt.Errorf("nats kv delete: %w", err)
	}
	return true, nil
}

func (s *NATSStore) Close() error {
	s.conn.Close()
	return nil
}
