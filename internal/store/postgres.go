package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"seatwatch/internal/config"
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS kv_hash (
        key   TEXT NOT NULL,
        field TEXT NOT NULL,
        value TEXT NOT NULL,
        PRIMARY KEY (key, field)
    );
    CREATE TABLE IF NOT EXISTS kv_set (
        key    TEXT NOT NULL,
        member TEXT NOT NULL,
        PRIMARY KEY (key, member)
    );
    CREATE TABLE IF NOT EXISTS kv_list (
        key   TEXT NOT NULL,
        pos   BIGINT NOT NULL,
        value TEXT NOT NULL,
        PRIMARY KEY (key, pos)
    );
    CREATE TABLE IF NOT EXISTS kv_ttl (
        key        TEXT PRIMARY KEY,
        expires_at TIMESTAMPTZ NOT NULL
    );`

	hsetSQL = `INSERT INTO kv_hash (key, field, value) VALUES ($1,$2,$3)
    ON CONFLICT (key, field) DO UPDATE SET value = EXCLUDED.value;`

	hgetSQL = `SELECT value FROM kv_hash WHERE key = $1 AND field = $2;`

	hgetAllSQL = `SELECT field, value FROM kv_hash WHERE key = $1;`

	hincrBySQL = `INSERT INTO kv_hash (key, field, value) VALUES ($1,$2,$3::text)
    ON CONFLICT (key, field) DO UPDATE SET value = ((kv_hash.value)::bigint + $3)::text
    RETURNING value;`

	hdelSQL = `DELETE FROM kv_hash WHERE key = $1 AND field = ANY($2);`

	saddSQL = `INSERT INTO kv_set (key, member) VALUES ($1,$2)
    ON CONFLICT (key, member) DO NOTHING;`

	sremSQL = `DELETE FROM kv_set WHERE key = $1 AND member = ANY($2);`

	smembersSQL = `SELECT member FROM kv_set WHERE key = $1;`

	lpushSQL = `INSERT INTO kv_list (key, pos, value)
    SELECT $1, COALESCE(MIN(pos), 0) - 1, $2 FROM kv_list WHERE key = $1;`

	rpopSQL = `DELETE FROM kv_list
    WHERE key = $1 AND pos = (SELECT MAX(pos) FROM kv_list WHERE key = $1)
    RETURNING value;`

	lrangeSQL = `SELECT value FROM kv_list WHERE key = $1 ORDER BY pos;`

	llenSQL = `SELECT COUNT(*) FROM kv_list WHERE key = $1;`

	expireSQL = `INSERT INTO kv_ttl (key, expires_at) VALUES ($1,$2)
    ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at;`

	purgeTTLSQL = `DELETE FROM kv_ttl WHERE key = $1 AND expires_at <= now() RETURNING key;`

	delHashSQL = `DELETE FROM kv_hash WHERE key = $1;`
	delSetSQL  = `DELETE FROM kv_set WHERE key = $1;`
	delListSQL = `DELETE FROM kv_list WHERE key = $1;`
	delTTLSQL  = `DELETE FROM kv_ttl WHERE key = $1;`

	advisoryLockSQL   = `SELECT pg_advisory_lock($1);`
	advisoryUnlockSQL = `SELECT pg_advisory_unlock($1);`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Postgres implements the KV contract on top of four relational tables with
// lazy per-key expiry. Per-key locks map to Postgres advisory locks.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the backing tables when absent.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure kv schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func (s *Postgres) purgeExpired(ctx context.Context, key string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	rows, err := pool.Query(ctx, purgeTTLSQL, key)
	if err != nil {
		return fmt.Errorf("purge ttl: %w", err)
	}
	expired := rows.Next()
	rows.Close()
	if rows.Err() != nil {
		return rows.Err()
	}
	if !expired {
		return nil
	}
	for _, stmt := range []string{delHashSQL, delSetSQL, delListSQL} {
		if _, err := pool.Exec(ctx, stmt, key); err != nil {
			return fmt.Errorf("purge expired key: %w", err)
		}
	}
	return nil
}

// HSet writes hash fields.
func (s *Postgres) HSet(ctx context.Context, key string, fields map[string]string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := s.purgeExpired(ctx, key); err != nil {
		return err
	}
	for field, value := range fields {
		if _, err := pool.Exec(ctx, hsetSQL, key, field, value); err != nil {
			return fmt.Errorf("hset %s.%s: %w", key, field, err)
		}
	}
	return nil
}

// HGet reads a single hash field.
func (s *Postgres) HGet(ctx context.Context, key, field string) (string, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", false, err
	}
	if err := s.purgeExpired(ctx, key); err != nil {
		return "", false, err
	}
	rows, queryErr := pool.Query(ctx, hgetSQL, key, field)
	if queryErr != nil {
		return "", false, fmt.Errorf("hget %s.%s: %w", key, field, queryErr)
	}
	defer rows.Close()
	if !rows.Next() {
		return "", false, rows.Err()
	}
	var value string
	if err := rows.Scan(&value); err != nil {
		return "", false, err
	}
	return value, true, nil
}

// HGetAll returns all hash fields for a key.
func (s *Postgres) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if err := s.purgeExpired(ctx, key); err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, hgetAllSQL, key)
	if queryErr != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, queryErr)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		out[field] = value
	}
	return out, rows.Err()
}

// HIncrBy atomically increments an integer hash field.
func (s *Postgres) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if err := s.purgeExpired(ctx, key); err != nil {
		return 0, err
	}
	var value string
	if err := pool.QueryRow(ctx, hincrBySQL, key, field, delta).Scan(&value); err != nil {
		return 0, fmt.Errorf("hincrby %s.%s: %w", key, field, err)
	}
	return parseInt64(value), nil
}

// HDel removes hash fields.
func (s *Postgres) HDel(ctx context.Context, key string, fields ...string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, hdelSQL, key, fields); err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

// SAdd adds set members.
func (s *Postgres) SAdd(ctx context.Context, key string, members ...string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := s.purgeExpired(ctx, key); err != nil {
		return err
	}
	for _, member := range members {
		if _, err := pool.Exec(ctx, saddSQL, key, member); err != nil {
			return fmt.Errorf("sadd %s: %w", key, err)
		}
	}
	return nil
}

// SRem removes set members.
func (s *Postgres) SRem(ctx context.Context, key string, members ...string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, sremSQL, key, members); err != nil {
		return fmt.Errorf("srem %s: %w", key, err)
	}
	return nil
}

// SMembers lists set members.
func (s *Postgres) SMembers(ctx context.Context, key string) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if err := s.purgeExpired(ctx, key); err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, smembersSQL, key)
	if queryErr != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, queryErr)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// LPush pushes values at the head of a list.
func (s *Postgres) LPush(ctx context.Context, key string, values ...string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := s.purgeExpired(ctx, key); err != nil {
		return err
	}
	for _, value := range values {
		if _, err := pool.Exec(ctx, lpushSQL, key, value); err != nil {
			return fmt.Errorf("lpush %s: %w", key, err)
		}
	}
	return nil
}

// RPop pops the tail of a list.
func (s *Postgres) RPop(ctx context.Context, key string) (string, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", false, err
	}
	if err := s.purgeExpired(ctx, key); err != nil {
		return "", false, err
	}
	rows, queryErr := pool.Query(ctx, rpopSQL, key)
	if queryErr != nil {
		return "", false, fmt.Errorf("rpop %s: %w", key, queryErr)
	}
	defer rows.Close()
	if !rows.Next() {
		return "", false, rows.Err()
	}
	var value string
	if err := rows.Scan(&value); err != nil {
		return "", false, err
	}
	return value, true, nil
}

// LRange returns list entries between start and stop inclusive, head first.
func (s *Postgres) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if err := s.purgeExpired(ctx, key); err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, lrangeSQL, key)
	if queryErr != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, queryErr)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		all = append(all, value)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return sliceRange(all, start, stop), nil
}

// LLen returns the list length.
func (s *Postgres) LLen(ctx context.Context, key string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if err := s.purgeExpired(ctx, key); err != nil {
		return 0, err
	}
	var count int64
	if err := pool.QueryRow(ctx, llenSQL, key).Scan(&count); err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return count, nil
}

// Expire sets per-key expiry.
func (s *Postgres) Expire(ctx context.Context, key string, ttl time.Duration) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, expireSQL, key, time.Now().UTC().Add(ttl)); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// Del removes a key across all primitives.
func (s *Postgres) Del(ctx context.Context, key string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{delHashSQL, delSetSQL, delListSQL, delTTLSQL} {
		if _, err := pool.Exec(ctx, stmt, key); err != nil {
			return fmt.Errorf("del %s: %w", key, err)
		}
	}
	return nil
}

// Lock acquires a Postgres advisory lock derived from the key and returns a
// release func bound to the holding connection.
func (s *Postgres) Lock(ctx context.Context, key string) (func(), error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	lockKey := advisoryKey(key)
	if _, err := conn.Exec(ctx, advisoryLockSQL, lockKey); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	release := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// unlock best effort; the connection release drops the lock anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, lockKey)
		conn.Release()
	}
	return release, nil
}

func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

func sliceRange(all []string, start, stop int64) []string {
	n := int64(len(all))
	if n == 0 {
		return nil
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil
	}
	return all[start : stop+1]
}

var _ KV = (*Postgres)(nil)
