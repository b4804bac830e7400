// ABOUTME: User and expert profile persistence for the SQL store
// ABOUTME: Registration creates the empty expert profile in the same transaction

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateUser inserts the user and its empty expert profile.
// Returns ErrDuplicate if the username is taken.
func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	now := formatTime(user.CreatedAt)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := s.insertReturningID(ctx, tx,
			`INSERT INTO users (username, created_at) VALUES (?, ?)`,
			user.Username, now)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("inserting user: %w", err)
		}
		user.ID = id

		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO expert_profiles (user_id, bio, knowledge_base_links, created_at, updated_at)
			VALUES (?, '', '[]', ?, ?)
		`), id, now, now)
		if err != nil {
			return fmt.Errorf("inserting expert profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, username, created_at FROM users WHERE id = ?`), id)
	return scanUser(row)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, username, created_at FROM users WHERE username = ?`), username)
	return scanUser(row)
}

// ListUsers returns all users ordered by ID.
func (s *SQLStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, created_at FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.Username, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

// GetExpertProfile retrieves the expert profile of a user.
func (s *SQLStore) GetExpertProfile(ctx context.Context, userID int64) (*ExpertProfile, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, user_id, bio, knowledge_base_links, created_at, updated_at
		FROM expert_profiles
		WHERE user_id = ?
	`), userID)

	var p ExpertProfile
	var links, createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.UserID, &p.Bio, &links, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying expert profile: %w", err)
	}

	if p.KnowledgeBaseLinks, err = decodeLinks(links); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

// UpdateExpertProfile replaces bio and links for profile.UserID.
func (s *SQLStore) UpdateExpertProfile(ctx context.Context, profile *ExpertProfile) error {
	if profile.KnowledgeBaseLinks == nil {
		profile.KnowledgeBaseLinks = []string{}
	}
	links, err := json.Marshal(profile.KnowledgeBaseLinks)
	if err != nil {
		return fmt.Errorf("encoding knowledge base links: %w", err)
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE expert_profiles
		SET bio = ?, knowledge_base_links = ?, updated_at = ?
		WHERE user_id = ?
	`), profile.Bio, string(links), formatTime(profile.UpdatedAt), profile.UserID)
	if err != nil {
		return fmt.Errorf("updating expert profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEligibleExperts returns users whose profile bio is non-empty, ordered by user ID.
// This is the single definition of routing eligibility.
func (s *SQLStore) ListEligibleExperts(ctx context.Context) ([]*EligibleExpert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, p.bio, p.knowledge_base_links
		FROM users u
		JOIN expert_profiles p ON p.user_id = u.id
		WHERE TRIM(p.bio) <> ''
		ORDER BY u.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying eligible experts: %w", err)
	}
	defer rows.Close()

	var experts []*EligibleExpert
	for rows.Next() {
		var e EligibleExpert
		var links string
		if err := rows.Scan(&e.UserID, &e.Username, &e.Bio, &links); err != nil {
			return nil, fmt.Errorf("scanning eligible expert: %w", err)
		}
		if e.KnowledgeBaseLinks, err = decodeLinks(links); err != nil {
			return nil, err
		}
		experts = append(experts, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating eligible experts: %w", err)
	}
	return experts, nil
}

func decodeLinks(raw string) ([]string, error) {
	links := []string{}
	if strings.TrimSpace(raw) == "" {
		return links, nil
	}
	if err := json.Unmarshal([]byte(raw), &links); err != nil {
		return nil, fmt.Errorf("decoding knowledge base links: %w", err)
	}
	if links == nil {
		links = []string{}
	}
	return links, nil
}
