// Package repomanager provides the PostgreSQL RepositoryManager, wiring
// repository constructors together with goose migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/freshkeeper/internal/dbx"
	"github.com/dmitrijs2005/freshkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/freshkeeper/internal/server/repositories/foods"
	"github.com/dmitrijs2005/freshkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/freshkeeper/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Foods(db dbx.DBTX) foods.Repository {
	return foods.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

// gooseUpContext is a seam for tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}
