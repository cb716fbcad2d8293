// Package redisstore is the Redis attribute store backend.
//
// Layout, with every key under the configured prefix:
//
//	meta:{kind}:{id}     hash of attribute key -> raw value
//	entity:{kind}:{id}   hash with subtype, title, link
//	entities:{kind}      sorted set of ids, scored by id
//	seq:{kind}           highest id handed out for the kind
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"cabinmap/core-go/internal/meta"
)

const DefaultPrefix = "cabinmap:"

// createEntity assigns or validates the id and writes the entity atomically.
// Entity keys are built inside the script, so the store is not cluster-safe.
var createEntity = redis.NewScript(`
local id = tonumber(ARGV[1])
if id <= 0 then
  id = redis.call('INCR', KEYS[1])
else
  local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
  if id > cur then redis.call('SET', KEYS[1], id) end
end
local ekey = ARGV[5] .. id
if redis.call('EXISTS', ekey) == 1 then
  return redis.error_reply('entity exists')
end
redis.call('HSET', ekey, 'subtype', ARGV[2], 'title', ARGV[3], 'link', ARGV[4])
redis.call('ZADD', KEYS[2], id, id)
return id
`)

var updateEntity = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'subtype', ARGV[1], 'title', ARGV[2], 'link', ARGV[3])
return 1
`)

type Store struct {
	rdb    *redis.Client
	prefix string
}

var _ meta.Backend = (*Store)(nil)

func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Open connects to addr and verifies the connection.
func Open(ctx context.Context, addr, pass string, db int, prefix string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(rdb, prefix), nil
}

func (s *Store) metaKey(kind meta.Kind, id int64) string {
	return s.prefix + "meta:" + string(kind) + ":" + strconv.FormatInt(id, 10)
}

func (s *Store) entityPrefix(kind meta.Kind) string {
	return s.prefix + "entity:" + string(kind) + ":"
}

func (s *Store) entityKey(kind meta.Kind, id int64) string {
	return s.entityPrefix(kind) + strconv.FormatInt(id, 10)
}

func (s *Store) indexKey(kind meta.Kind) string {
	return s.prefix + "entities:" + string(kind)
}

func (s *Store) seqKey(kind meta.Kind) string {
	return s.prefix + "seq:" + string(kind)
}

func (s *Store) Get(ctx context.Context, kind meta.Kind, id int64, key string) ([]byte, error) {
	v, err := s.rdb.HGet(ctx, s.metaKey(kind, id), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hget %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, kind meta.Kind, id int64, key string, value []byte) error {
	if err := s.rdb.HSet(ctx, s.metaKey(kind, id), key, value).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, kind meta.Kind, id int64, key string) error {
	if err := s.rdb.HDel(ctx, s.metaKey(kind, id), key).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

func (s *Store) Entity(ctx context.Context, kind meta.Kind, id int64) (meta.Entity, error) {
	fields, err := s.rdb.HGetAll(ctx, s.entityKey(kind, id)).Result()
	if err != nil {
		return meta.Entity{}, fmt.Errorf("hgetall entity: %w", err)
	}
	if len(fields) == 0 {
		return meta.Entity{}, meta.ErrNotFound
	}
	return toEntity(kind, id, fields), nil
}

func (s *Store) ListEntities(ctx context.Context, kind meta.Kind, subtype string) ([]meta.Entity, error) {
	members, err := s.rdb.ZRange(ctx, s.indexKey(kind), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange entities: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	if _, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.entityKey(kind, id))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}

	var out []meta.Entity
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		e := toEntity(kind, ids[i], fields)
		if subtype != "" && e.Subtype != subtype {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) CreateEntity(ctx context.Context, e meta.Entity) (meta.Entity, error) {
	if !e.Kind.Valid() {
		return meta.Entity{}, fmt.Errorf("create entity: invalid kind %q", e.Kind)
	}
	id, err := createEntity.Run(ctx, s.rdb,
		[]string{s.seqKey(e.Kind), s.indexKey(e.Kind)},
		e.ID, e.Subtype, e.Title, e.Link, s.entityPrefix(e.Kind),
	).Int64()
	if err != nil {
		if strings.Contains(err.Error(), "entity exists") {
			return meta.Entity{}, fmt.Errorf("create entity: %s %d already exists", e.Kind, e.ID)
		}
		return meta.Entity{}, fmt.Errorf("create entity: %w", err)
	}
	e.ID = id
	return e, nil
}

func (s *Store) UpdateEntity(ctx context.Context, e meta.Entity) (meta.Entity, error) {
	ok, err := updateEntity.Run(ctx, s.rdb, []string{s.entityKey(e.Kind, e.ID)}, e.Subtype, e.Title, e.Link).Int64()
	if err != nil {
		return meta.Entity{}, fmt.Errorf("update entity: %w", err)
	}
	if ok == 0 {
		return meta.Entity{}, meta.ErrNotFound
	}
	return e, nil
}

// DeleteEntity removes the record, its index entry and its attributes in one
// MULTI/EXEC block.
func (s *Store) DeleteEntity(ctx context.Context, kind meta.Kind, id int64) error {
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, s.entityKey(kind, id))
		p.Del(ctx, s.metaKey(kind, id))
		p.ZRem(ctx, s.indexKey(kind), strconv.FormatInt(id, 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	if del.Val() == 0 {
		return meta.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func toEntity(kind meta.Kind, id int64, fields map[string]string) meta.Entity {
	return meta.Entity{
		ID:      id,
		Kind:    kind,
		Subtype: fields["subtype"],
		Title:   fields["title"],
		Link:    fields["link"],
	}
}
