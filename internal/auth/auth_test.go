package auth

import (
	"context"
	"testing"

	"vrac/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st, store.NewWriteSerializer())
}

func TestCreateAndVerify(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.CreateUser(ctx, "admin", "hunter2"); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	if !svc.Verify(ctx, "admin", "hunter2") {
		t.Error("expected correct credentials to verify")
	}
	if svc.Verify(ctx, "admin", "wrong") {
		t.Error("expected wrong password to fail")
	}
	if svc.Verify(ctx, "nobody", "hunter2") {
		t.Error("expected unknown user to fail")
	}
}

func TestCreateUserRejectsEmpty(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.CreateUser(ctx, "", "pw"); err == nil {
		t.Error("expected error for empty username")
	}
	if err := svc.CreateUser(ctx, "user", ""); err == nil {
		t.Error("expected error for empty password")
	}
}
