package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sodmaq/NestMongo/services/identity/internal/storage"
)

type demoUser struct {
	FullName string
	Email    string
	Password string
	Roles    []string
	Verified bool
}

var demoUsers = []demoUser{
	{FullName: "John Doe", Email: "john@example.com", Password: "password123", Roles: []string{storage.RoleUser}, Verified: true},
	{FullName: "Jane Smith", Email: "jane@example.com", Password: "securepass456", Roles: []string{storage.RoleInstructor}, Verified: true},
	{FullName: "Bob Johnson", Email: "bob@example.com", Password: "mypassword789", Roles: []string{storage.RoleUser}, Verified: false},
	{FullName: "Alice Wilson", Email: "alice@example.com", Password: "alicepass101", Roles: []string{storage.RoleInstructor}, Verified: true},
	{FullName: "Admin", Email: "admin@example.com", Password: "adminpass202", Roles: []string{storage.RoleAdmin}, Verified: true},
}

type userStore interface {
	CountUsers(ctx context.Context) (int, error)
	CreateUser(ctx context.Context, in storage.NewUser) (*storage.User, error)
	DeleteAllUsers(ctx context.Context) (int64, error)
}

type seeder struct {
	users userStore
	hash  func(password string) (string, error)
	out   io.Writer
}

// seed inserts the demo users unless the table already has rows.
func (s *seeder) seed(ctx context.Context) error {
	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		fmt.Fprintf(s.out, "Users already exist (%d), skipping\n", count)
		return nil
	}

	fmt.Fprintln(s.out, "Seeding database...")
	for _, u := range demoUsers {
		hash, err := s.hash(u.Password)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.Email, err)
		}
		if _, err := s.users.CreateUser(ctx, storage.NewUser{
			Email:        u.Email,
			PasswordHash: hash,
			FullName:     u.FullName,
			Roles:        u.Roles,
			IsVerified:   u.Verified,
		}); err != nil {
			return fmt.Errorf("create %s: %w", u.Email, err)
		}
	}
	fmt.Fprintf(s.out, "✓ %d users seeded\n", len(demoUsers))

	fmt.Fprintln(s.out, "\nDemo Credentials:")
	for _, u := range demoUsers {
		fmt.Fprintf(s.out, "  %s / %s (%s)\n", u.Email, u.Password, u.Roles[0])
	}
	return nil
}

func (s *seeder) clear(ctx context.Context) error {
	n, err := s.users.DeleteAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("delete users: %w", err)
	}
	fmt.Fprintf(s.out, "✓ %d users deleted\n", n)
	return nil
}
