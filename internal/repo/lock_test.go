package repo

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeSessionConn struct {
	execErr error
	calls   []string
}

func (c *fakeSessionConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	c.calls = append(c.calls, "exec")
	return pgconn.CommandTag{}, c.execErr
}

func (c *fakeSessionConn) Close(context.Context) error {
	c.calls = append(c.calls, "close")
	return nil
}

func (c *fakeSessionConn) Release() {
	c.calls = append(c.calls, "release")
}

func TestUnlockSession(t *testing.T) {
	tests := []struct {
		name      string
		execErr   error
		wantErr   bool
		wantCalls []string
	}{
		{"unlocked", nil, false, []string{"exec", "release"}},
		{"unlock failed closes conn", errors.New("conn reset"), true, []string{"exec", "close", "release"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeSessionConn{execErr: tt.execErr}

			err := unlockSession(context.Background(), conn, LockKey("downstream-starter"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !slices.Equal(conn.calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", conn.calls, tt.wantCalls)
			}
		})
	}
}
