package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store/memory"
)

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	repo := memory.NewSeeded()
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username:  "legacy",
		Password:  "plain-text-secret",
		Role:      "cashier",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	auth := NewAuthManager("secret", time.Hour, "", repo)

	resp, err := auth.Login(domain.LoginRequest{Username: "legacy", Password: "plain-text-secret"})
	if err != nil {
		t.Fatalf("login with legacy password failed: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected access token")
	}

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	for _, u := range users {
		if u.Username != "legacy" {
			continue
		}
		if !strings.HasPrefix(u.Password, "$2") {
			t.Fatalf("legacy password not upgraded to bcrypt: %q", u.Password)
		}
		return
	}
	t.Fatal("legacy user not found in store")
}

func TestParseTokenRoundTrip(t *testing.T) {
	auth := NewAuthManager("secret", time.Hour, "", memory.NewSeeded())

	resp, err := auth.Login(domain.LoginRequest{Username: "manager", Password: "manager123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if actor.Username != "manager" || actor.Role != "manager" {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	if _, err := auth.ParseToken(resp.AccessToken + "tampered"); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	auth := NewAuthManager("secret", time.Hour, "424242", memory.NewSeeded())

	if !strings.HasPrefix(auth.managerPIN, "$2") {
		t.Fatalf("manager PIN stored unhashed: %q", auth.managerPIN)
	}
	if !auth.ValidateManagerPIN("424242") {
		t.Fatal("correct PIN rejected")
	}
	if auth.ValidateManagerPIN("badpin") {
		t.Fatal("wrong PIN accepted")
	}
	if auth.ValidateManagerPIN("") {
		t.Fatal("empty PIN accepted")
	}
}

func TestCreateCashierValidation(t *testing.T) {
	auth := NewAuthManager("secret", time.Hour, "", memory.NewSeeded())

	if _, err := auth.CreateCashier(domain.CashierCreateRequest{Username: "ab", Password: "longenough"}); err == nil {
		t.Fatal("expected short username to be rejected")
	}
	if _, err := auth.CreateCashier(domain.CashierCreateRequest{Username: "newcashier", Password: "123"}); err == nil {
		t.Fatal("expected short password to be rejected")
	}

	user, err := auth.CreateCashier(domain.CashierCreateRequest{Username: "NewCashier", Password: "s3cret99"})
	if err != nil {
		t.Fatalf("CreateCashier: %v", err)
	}
	if user.Username != "newcashier" || user.Role != "cashier" {
		t.Fatalf("unexpected cashier: %+v", user)
	}

	if _, err := auth.CreateCashier(domain.CashierCreateRequest{Username: "newcashier", Password: "s3cret99"}); err == nil {
		t.Fatal("expected duplicate username to be rejected")
	}
}
