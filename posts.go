package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const postMaxLength = 4000

var (
	errCommunityNameTaken = errors.New("COMMUNITY_NAME_TAKEN")
	errInvalidCommunity   = errors.New("INVALID_COMMUNITY_NAME")
	errInvalidPost        = errors.New("INVALID_POST")
	errNotMember          = errors.New("NOT_A_MEMBER")
	errPostLimitReached   = errors.New("POST_LIMIT_REACHED")
)

type Community struct {
	CommunityID string    `json:"communityId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Post struct {
	PostID             string    `json:"postId"`
	CommunityID        string    `json:"communityId"`
	AuthorID           string    `json:"authorId"`
	AuthorName         string    `json:"authorName"`
	Content            string    `json:"content"`
	AppreciationPoints int64     `json:"appreciationPoints"`
	CreatedAt          time.Time `json:"createdAt"`
}

type Appreciation struct {
	FromUser  string    `json:"fromUser"`
	Points    int       `json:"points"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func createCommunity(ctx context.Context, db *sql.DB, creator *User, name string, description string) (*Community, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 120 {
		return nil, errInvalidCommunity
	}

	communityID := uuid.New().String()
	now := time.Now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO communities (community_id, name, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, communityID, name, nullableString(description), creator.UserID, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, errCommunityNameTaken
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO community_members (community_id, user_id, joined_at)
		VALUES ($1, $2, $3)
	`, communityID, creator.UserID, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Community{
		CommunityID: communityID,
		Name:        name,
		Description: description,
		CreatedBy:   creator.UserID,
		MemberCount: 1,
		CreatedAt:   now,
	}, nil
}

func listCommunities(ctx context.Context, db *sql.DB) ([]Community, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.community_id, c.name, COALESCE(c.description, ''), c.created_by, c.created_at,
			(SELECT COUNT(*) FROM community_members m WHERE m.community_id = c.community_id)
		FROM communities c
		ORDER BY c.name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	communities := []Community{}
	for rows.Next() {
		var c Community
		if err := rows.Scan(&c.CommunityID, &c.Name, &c.Description, &c.CreatedBy, &c.CreatedAt, &c.MemberCount); err != nil {
			return nil, err
		}
		communities = append(communities, c)
	}
	return communities, rows.Err()
}

func joinCommunity(ctx context.Context, db *sql.DB, communityID string, userID string) error {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM communities WHERE community_id = $1)
	`, communityID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return errNotFound
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO community_members (community_id, user_id, joined_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (community_id, user_id) DO NOTHING
	`, communityID, userID)
	return err
}

func leaveCommunity(ctx context.Context, db *sql.DB, communityID string, userID string) error {
	result, err := db.ExecContext(ctx, `
		DELETE FROM community_members
		WHERE community_id = $1 AND user_id = $2
	`, communityID, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errNotMember
	}
	return nil
}

func isCommunityMember(ctx context.Context, db *sql.DB, communityID string, userID string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM community_members WHERE community_id = $1 AND user_id = $2
		)
	`, communityID, userID).Scan(&exists)
	return exists, err
}

func createPost(ctx context.Context, db *sql.DB, author *User, communityID string, content string) (*Post, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > postMaxLength {
		return nil, errInvalidPost
	}

	member, err := isCommunityMember(ctx, db, communityID, author.UserID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, errForbidden
	}

	now := time.Now().UTC()

	maxPosts := GetGlobalSettings().MaxPostsPerDay
	if maxPosts > 0 {
		var count int
		if err := db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM posts WHERE author_id = $1 AND created_at >= $2
		`, author.UserID, truncateToDay(now)).Scan(&count); err != nil {
			return nil, err
		}
		if count >= maxPosts {
			return nil, errPostLimitReached
		}
	}

	postID := uuid.New().String()

	_, err = db.ExecContext(ctx, `
		INSERT INTO posts (post_id, community_id, author_id, content, total_appreciation_points, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)
	`, postID, communityID, author.UserID, content, now)
	if err != nil {
		return nil, err
	}

	return &Post{
		PostID:      postID,
		CommunityID: communityID,
		AuthorID:    author.UserID,
		AuthorName:  author.DisplayName,
		Content:     content,
		CreatedAt:   now,
	}, nil
}

func listPosts(ctx context.Context, db *sql.DB, communityID string, limit int) ([]Post, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT p.post_id, p.community_id, p.author_id, COALESCE(u.display_name, u.username),
			p.content, p.total_appreciation_points, p.created_at
		FROM posts p
		JOIN users u ON u.user_id = p.author_id
		WHERE p.community_id = $1
		ORDER BY p.created_at DESC
		LIMIT $2
	`, communityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.PostID, &p.CommunityID, &p.AuthorID, &p.AuthorName,
			&p.Content, &p.AppreciationPoints, &p.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func getPost(ctx context.Context, db *sql.DB, postID string) (*Post, error) {
	var p Post
	err := db.QueryRowContext(ctx, `
		SELECT p.post_id, p.community_id, p.author_id, COALESCE(u.display_name, u.username),
			p.content, p.total_appreciation_points, p.created_at
		FROM posts p
		JOIN users u ON u.user_id = p.author_id
		WHERE p.post_id = $1
	`, postID).Scan(&p.PostID, &p.CommunityID, &p.AuthorID, &p.AuthorName,
		&p.Content, &p.AppreciationPoints, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func listAppreciations(ctx context.Context, db *sql.DB, postID string, limit int) ([]Appreciation, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT from_user, points, COALESCE(message, ''), created_at
		FROM post_appreciations
		WHERE post_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, postID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appreciations := []Appreciation{}
	for rows.Next() {
		var a Appreciation
		if err := rows.Scan(&a.FromUser, &a.Points, &a.Message, &a.CreatedAt); err != nil {
			return nil, err
		}
		appreciations = append(appreciations, a)
	}
	return appreciations, rows.Err()
}
