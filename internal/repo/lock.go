package repo

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LockKey выводит ключ advisory lock из имени job'а.
func LockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// AdvisoryLock — сессионный pg_try_advisory_lock.
//
// Блокировка привязана к соединению, поэтому на время владения
// соединение удерживается вне пула.
type AdvisoryLock struct {
	pool *pgxpool.Pool
	key  int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewAdvisoryLock создаёт AdvisoryLock.
func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, key: key}
}

// TryLock пытается взять блокировку без ожидания.
func (l *AdvisoryLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return true, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Unlock освобождает блокировку и возвращает соединение в пул.
func (l *AdvisoryLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	return unlockSession(ctx, pooledConn{conn}, l.key)
}

// sessionConn — соединение, на котором держится сессионная блокировка.
type sessionConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
	Release()
}

// pooledConn закрывает соединение пула целиком, а не только возвращает его.
type pooledConn struct {
	*pgxpool.Conn
}

func (c pooledConn) Close(ctx context.Context) error {
	return c.Conn.Conn().Close(ctx)
}

// unlockSession снимает блокировку и возвращает соединение в пул.
// Если снять не удалось, соединение закрывается: сервер освобождает
// сессионные блокировки вместе с сессией, а закрытое соединение пул
// уничтожает при Release.
func unlockSession(ctx context.Context, conn sessionConn, key int64) error {
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", key); err != nil {
		if cerr := conn.Close(ctx); cerr != nil {
			return errors.Join(fmt.Errorf("advisory unlock: %w", err), fmt.Errorf("close conn: %w", cerr))
		}
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
