package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/freshkeeper/internal/dbx"
	"github.com/dmitrijs2005/freshkeeper/internal/server/repositories/foods"
	"github.com/dmitrijs2005/freshkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/freshkeeper/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a handle, so the same code
// path can run against *sql.DB or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Foods(db dbx.DBTX) foods.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
