package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")

	req := RegisterRequest{Account: "alice", Password: "supersafe"}

	ctx := context.Background()
	acct, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}
	if acct.Role != RoleParticipant {
		t.Fatalf("register: expected default role %s got %s", RoleParticipant, acct.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Account: req.Account, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.Account.ID != acct.ID {
		t.Fatalf("login: expected account id %q got %q", acct.ID, resp.Account.ID)
	}

	name, role, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if name != "alice" || role != RoleParticipant {
		t.Fatalf("verify token: got %q/%s", name, role)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Account: "alice", Password: "short"}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterRequest{Account: "", Password: "strongpassword"}); err == nil {
		t.Fatal("expected validation error for missing account")
	}
	if _, err := svc.Register(ctx, RegisterRequest{Account: "mallory", Password: "strongpassword", Role: RoleOwner}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole for self-registered owner, got %v", err)
	}
}

func TestService_DuplicateAccount(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")

	req := RegisterRequest{Account: "alice", Password: "strongpassword"}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
}

func TestService_ProvisionIsIdempotent(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.Provision(ctx, "ledger-svc", "ledger-password", RoleLedger); err != nil {
			t.Fatalf("provision %d: %v", i, err)
		}
	}
	resp, err := svc.Login(ctx, LoginRequest{Account: "ledger-svc", Password: "ledger-password"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Account.Role != RoleLedger {
		t.Fatalf("expected ledger role, got %s", resp.Account.Role)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{Account: "unknown", Password: "irrelevant"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_ExpiredToken(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret").WithTokenTTL(time.Minute)
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterRequest{Account: "alice", Password: "supersafe"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	resp, err := svc.Login(ctx, LoginRequest{Account: "alice", Password: "supersafe"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, _, err := svc.VerifyToken(resp.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	other := NewService(NewMemoryRepository(), "other-secret")
	if _, _, err := other.VerifyToken(resp.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token accepted under another secret: %v", err)
	}
}
