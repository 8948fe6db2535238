package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"cronfire/internal/models"
)

// CommandRunner is the narrow capability the key-value executor needs.
// *redis.Client satisfies it through RedisCommandRunner.
type CommandRunner interface {
	Do(ctx context.Context, args ...interface{}) error
}

type RedisCommandRunner struct {
	client *goredis.Client
}

func NewRedisCommandRunner(client *goredis.Client) *RedisCommandRunner {
	return &RedisCommandRunner{client: client}
}

func (r *RedisCommandRunner) Do(ctx context.Context, args ...interface{}) error {
	return r.client.Do(ctx, args...).Err()
}

// KeyValueCommandExecutor issues the stored command against the key-value
// backend. Backend-reported errors map to failure.
type KeyValueCommandExecutor struct {
	runner CommandRunner
}

func NewKeyValueCommandExecutor(runner CommandRunner) *KeyValueCommandExecutor {
	return &KeyValueCommandExecutor{runner: runner}
}

func (e *KeyValueCommandExecutor) Kind() models.JobKind {
	return models.KindKeyValue
}

func (e *KeyValueCommandExecutor) Execute(ctx context.Context, payload json.RawMessage) error {
	var p models.KeyValuePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode keyvalue payload: %w", err)
	}

	args, err := commandArgs(&p)
	if err != nil {
		return err
	}
	if err := e.runner.Do(ctx, args...); err != nil {
		return fmt.Errorf("keyvalue command %s: %w", p.Command, err)
	}
	return nil
}

func commandArgs(p *models.KeyValuePayload) ([]interface{}, error) {
	cmd := strings.ToLower(strings.TrimSpace(p.Command))
	switch cmd {
	case "set", "lpush", "rpush":
		return []interface{}{cmd, p.Key, p.Value}, nil
	case "del", "incr", "decr":
		return []interface{}{cmd, p.Key}, nil
	case "expire":
		seconds, err := strconv.Atoi(p.Value)
		if err != nil {
			return nil, fmt.Errorf("expire command: value %q is not a number of seconds", p.Value)
		}
		return []interface{}{cmd, p.Key, seconds}, nil
	default:
		return nil, fmt.Errorf("unsupported keyvalue command %q", p.Command)
	}
}
