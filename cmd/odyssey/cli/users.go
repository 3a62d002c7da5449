package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pquerna/otp"

	"github.com/odyssey-erp/odyssey-strategy/internal/rbac"
)

// UserAdmin manages accounts. *auth.Service satisfies it.
type UserAdmin interface {
	CreateUser(ctx context.Context, email, password, role string, ipRestrictions []string) (int64, error)
	EnrollMFA(ctx context.Context, email string) (*otp.Key, error)
}

// UsersCLI offers account provisioning helpers.
type UsersCLI struct {
	admin UserAdmin
}

// NewUsersCLI constructs the helper.
func NewUsersCLI(admin UserAdmin) *UsersCLI {
	return &UsersCLI{admin: admin}
}

// CreateUserOptions defines the flags of users create.
type CreateUserOptions struct {
	Email      string
	Password   string
	Role       string
	AllowedIPs []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// CreateCommand provisions an account and prints its id.
func (c *UsersCLI) CreateCommand(ctx context.Context, opts CreateUserOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	if strings.TrimSpace(opts.Email) == "" || opts.Password == "" {
		_, _ = fmt.Fprintln(stderr, "users create: --email and --password are required")
		return 1
	}
	role, ok := rbac.ParseRole(opts.Role)
	if !ok {
		names := make([]string, 0, len(rbac.Hierarchy()))
		for _, r := range rbac.Hierarchy() {
			names = append(names, string(r))
		}
		_, _ = fmt.Fprintf(stderr, "users create: unknown role %q (want one of %s)\n", opts.Role, strings.Join(names, ", "))
		return 1
	}
	id, err := c.admin.CreateUser(ctx, opts.Email, opts.Password, string(role), opts.AllowedIPs)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "users create: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		_ = json.NewEncoder(stdout).Encode(map[string]any{"id": id, "email": opts.Email, "role": role})
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "created user %d (%s) with role %s\n", id, opts.Email, role.DisplayName())
	return 0
}

// EnrollMFACommand generates a TOTP secret for the account and prints the provisioning URL.
func (c *UsersCLI) EnrollMFACommand(ctx context.Context, email string, stdout, stderr io.Writer) int {
	stdout, stderr = streams(stdout, stderr)
	if strings.TrimSpace(email) == "" {
		_, _ = fmt.Fprintln(stderr, "users enroll-mfa: --email is required")
		return 1
	}
	key, err := c.admin.EnrollMFA(ctx, email)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "users enroll-mfa: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "secret: %s\nurl: %s\n", key.Secret(), key.URL())
	return 0
}

func streams(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
