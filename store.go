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

var (
	errOrgNameTaken   = errors.New("ORG_NAME_TAKEN")
	errInvalidOrgName = errors.New("INVALID_ORG_NAME")
	errInvalidProduct = errors.New("INVALID_PRODUCT")
)

type Organization struct {
	OrgID       string    `json:"orgId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Product struct {
	ProductID   string    `json:"productId"`
	OrgID       string    `json:"orgId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PointsCost  int       `json:"pointsCost"`
	Stock       int       `json:"stock"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
}

func createOrganization(ctx context.Context, db *sql.DB, creator *User, name string, description string) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 120 {
		return nil, errInvalidOrgName
	}

	orgID := uuid.New().String()
	now := time.Now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO organizations (org_id, name, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, orgID, name, nullableString(description), creator.UserID, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, errOrgNameTaken
		}
		return nil, err
	}

	// Creator joins as owner so ownership checks do not special-case.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO org_members (org_id, user_id, role, joined_at)
		VALUES ($1, $2, 'owner', $3)
	`, orgID, creator.UserID, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Organization{
		OrgID:       orgID,
		Name:        name,
		Description: description,
		CreatedBy:   creator.UserID,
		CreatedAt:   now,
	}, nil
}

func isOrgMember(ctx context.Context, db *sql.DB, orgID string, userID string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM org_members WHERE org_id = $1 AND user_id = $2
		)
	`, orgID, userID).Scan(&exists)
	return exists, err
}

func addOrgMember(ctx context.Context, db *sql.DB, actor *User, orgID string, userID string, role string) error {
	if role != "owner" && role != "member" {
		role = "member"
	}
	if err := requireOrgAccess(ctx, db, orgID, actor); err != nil {
		return err
	}
	if _, err := loadUser(db, userID); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO org_members (org_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (org_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, orgID, userID, role)
	return err
}

// requireOrgAccess allows admins and org members. Non-members get Forbidden
// whether or not the org exists; a missing org is NotFound only for members
// of nothing, so check existence first.
func requireOrgAccess(ctx context.Context, db *sql.DB, orgID string, actor *User) error {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM organizations WHERE org_id = $1)
	`, orgID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return errNotFound
	}
	if actor.Role == "admin" {
		return nil
	}
	member, err := isOrgMember(ctx, db, orgID, actor.UserID)
	if err != nil {
		return err
	}
	if !member {
		return errForbidden
	}
	return nil
}

func listOrganizations(ctx context.Context, db *sql.DB) ([]Organization, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT org_id, name, COALESCE(description, ''), created_by, created_at
		FROM organizations
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orgs := []Organization{}
	for rows.Next() {
		var o Organization
		if err := rows.Scan(&o.OrgID, &o.Name, &o.Description, &o.CreatedBy, &o.CreatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

func createProduct(ctx context.Context, db *sql.DB, actor *User, orgID string, name string, description string, pointsCost int, stock int) (*Product, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 160 || pointsCost < 1 || stock < 0 {
		return nil, errInvalidProduct
	}
	if err := requireOrgAccess(ctx, db, orgID, actor); err != nil {
		return nil, err
	}

	productID := uuid.New().String()
	now := time.Now().UTC()

	_, err := db.ExecContext(ctx, `
		INSERT INTO products (product_id, org_id, name, description, points_cost, stock, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
	`, productID, orgID, name, nullableString(description), pointsCost, stock, now)
	if err != nil {
		return nil, err
	}

	return &Product{
		ProductID:   productID,
		OrgID:       orgID,
		Name:        name,
		Description: description,
		PointsCost:  pointsCost,
		Stock:       stock,
		Active:      true,
		CreatedAt:   now,
	}, nil
}

func updateProduct(ctx context.Context, db *sql.DB, actor *User, productID string, pointsCost int, stock int, active bool) (*Product, error) {
	product, err := getProduct(ctx, db, productID)
	if err != nil {
		return nil, err
	}
	if err := requireOrgAccess(ctx, db, product.OrgID, actor); err != nil {
		return nil, err
	}
	if pointsCost < 1 || stock < 0 {
		return nil, errInvalidProduct
	}

	_, err = db.ExecContext(ctx, `
		UPDATE products
		SET points_cost = $2, stock = $3, active = $4
		WHERE product_id = $1
	`, productID, pointsCost, stock, active)
	if err != nil {
		return nil, err
	}

	product.PointsCost = pointsCost
	product.Stock = stock
	product.Active = active
	return product, nil
}

func getProduct(ctx context.Context, db *sql.DB, productID string) (*Product, error) {
	var p Product
	err := db.QueryRowContext(ctx, `
		SELECT product_id, org_id, name, COALESCE(description, ''), points_cost, stock, active, created_at
		FROM products
		WHERE product_id = $1
	`, productID).Scan(&p.ProductID, &p.OrgID, &p.Name, &p.Description, &p.PointsCost, &p.Stock, &p.Active, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func listProducts(ctx context.Context, db *sql.DB, orgID string, includeInactive bool) ([]Product, error) {
	query := `
		SELECT product_id, org_id, name, COALESCE(description, ''), points_cost, stock, active, created_at
		FROM products
		WHERE ($1 = '' OR org_id = $1)
	`
	if !includeInactive {
		query += ` AND active = TRUE`
	}
	query += ` ORDER BY points_cost ASC, name ASC`

	rows, err := db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ProductID, &p.OrgID, &p.Name, &p.Description, &p.PointsCost, &p.Stock, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
