package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/durvesh-thorat/RETRIVA/models"
)

// ErrEmailTaken is returned when registering an email that already has an
// account.
var ErrEmailTaken = errors.New("email already registered")

// CreateUser inserts a new user with their password hash.
func (d *Database) CreateUser(user *models.User, passwordHash string) error {
	var existing string
	err := d.db.QueryRow("SELECT id FROM users WHERE email = ?", user.Email).Scan(&existing)
	if err == nil {
		return ErrEmailTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check existing email: %w", err)
	}

	_, err = d.db.Exec(
		"INSERT INTO users (id, email, password_hash, display_name) VALUES (?, ?, ?, ?)",
		user.ID, user.Email, passwordHash, user.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByEmail returns the user and stored password hash for a login
// attempt.
func (d *Database) GetUserByEmail(email string) (*models.User, string, error) {
	var user models.User
	var hash string
	err := d.db.QueryRow(
		"SELECT id, email, password_hash, display_name, created_at FROM users WHERE email = ?",
		email,
	).Scan(&user.ID, &user.Email, &hash, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to fetch user by email: %w", err)
	}
	return &user, hash, nil
}

// GetUserByID fetches one user.
func (d *Database) GetUserByID(id string) (*models.User, error) {
	var user models.User
	err := d.db.QueryRow(
		"SELECT id, email, display_name, created_at FROM users WHERE id = ?",
		id,
	).Scan(&user.ID, &user.Email, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}
	return &user, nil
}
