package authpw

import (
	"context"
	"errors"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/crypto/bcrypt"

	"quill/api/internal/store"
)

func newTestService() *Service {
	svc := NewService(store.NewMemoryStore())
	svc.cost = bcrypt.MinCost
	return svc
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	profile, err := svc.SignUp(ctx, SignUpRequest{Email: " Avery@Example.com ", Password: "correct-horse", DisplayName: "Avery"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if profile.ID == "" || profile.Email != "avery@example.com" {
		t.Fatalf("SignUp() = %+v", profile)
	}
	if profile.PasswordHash == "correct-horse" {
		t.Fatal("password stored in clear text")
	}

	got, err := svc.SignIn(ctx, SignInRequest{Email: "AVERY@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if got.ID != profile.ID {
		t.Fatalf("SignIn() id = %q, want %q", got.ID, profile.ID)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	req := SignUpRequest{Email: "avery@example.com", Password: "correct-horse", DisplayName: "Avery"}
	if _, err := svc.SignUp(ctx, req); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if _, err := svc.SignUp(ctx, req); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("second SignUp() error = %v, want ErrEmailTaken", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := newTestService()
	cases := []struct {
		name  string
		req   SignUpRequest
		field string
	}{
		{name: "bad email", req: SignUpRequest{Email: "nope", Password: "correct-horse", DisplayName: "A"}, field: "Email"},
		{name: "short password", req: SignUpRequest{Email: "a@example.com", Password: "short", DisplayName: "A"}, field: "Password"},
		{name: "missing name", req: SignUpRequest{Email: "a@example.com", Password: "correct-horse", DisplayName: "  "}, field: "DisplayName"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SignUp(context.Background(), tc.req)
			var errs validation.Errors
			if !errors.As(err, &errs) {
				t.Fatalf("SignUp() error = %v, want validation.Errors", err)
			}
			if _, ok := errs[tc.field]; !ok {
				t.Fatalf("SignUp() errors = %v, want %s", errs, tc.field)
			}
		})
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "avery@example.com", Password: "correct-horse", DisplayName: "Avery"}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	for _, req := range []SignInRequest{
		{Email: "avery@example.com", Password: "wrong-password"},
		{Email: "nobody@example.com", Password: "correct-horse"},
		{Email: "", Password: ""},
	} {
		if _, err := svc.SignIn(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("SignIn(%q) error = %v, want ErrInvalidCredentials", req.Email, err)
		}
	}
}
