package foods

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/freshkeeper/internal/common"
	"github.com/dmitrijs2005/freshkeeper/internal/dbx"
	"github.com/dmitrijs2005/freshkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const foreignKeyViolation = "23503"

var columns = []string{
	"id", "user_id", "name", "label", "image_path",
	"production_date", "shelf_life_days", "expiration_date", "created_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, item *models.FoodItem) (*models.FoodItem, error) {
	query, args, err := psql.Insert("food_items").
		Columns("user_id", "name", "label", "image_path", "production_date", "shelf_life_days", "expiration_date").
		Values(item.UserID, item.Name, item.Label, item.ImagePath, item.ProductionDate, item.ShelfLifeDays, item.ExpirationDate).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&item.ID, &item.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return nil, fmt.Errorf("user %d: %w", item.UserID, common.ErrorNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return item, nil
}

func (r *PostgresRepository) List(ctx context.Context, q models.FoodQuery) ([]*models.FoodItem, error) {
	b := psql.Select(columns...).From("food_items").Where(sq.Eq{"user_id": q.UserID})
	if q.NameContains != "" {
		b = b.Where(sq.ILike{"name": "%" + escapeLike(q.NameContains) + "%"})
	}
	if !q.ExpiredBefore.IsZero() {
		b = b.Where(sq.Lt{"expiration_date": q.ExpiredBefore})
	}

	query, args, err := b.OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanAll(rows)
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, id int64) (*models.FoodItem, error) {
	query, args, err := psql.Delete("food_items").
		Where(sq.Eq{"id": id, "user_id": userID}).
		Suffix("RETURNING " + strings.Join(columns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	item, err := scanItem(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return item, nil
}

func (r *PostgresRepository) DeleteByName(ctx context.Context, userID int64, name string) ([]*models.FoodItem, error) {
	query, args, err := psql.Delete("food_items").
		Where(sq.Eq{"name": name, "user_id": userID}).
		Suffix("RETURNING " + strings.Join(columns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	items, err := scanAll(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, common.ErrorNotFound
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*models.FoodItem, error) {
	f := &models.FoodItem{}
	err := s.Scan(&f.ID, &f.UserID, &f.Name, &f.Label, &f.ImagePath,
		&f.ProductionDate, &f.ShelfLifeDays, &f.ExpirationDate, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func scanAll(rows *sql.Rows) ([]*models.FoodItem, error) {
	defer rows.Close()

	items := []*models.FoodItem{}
	for rows.Next() {
		f, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return items, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
