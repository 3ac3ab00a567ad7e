package migrations

import (
	"context"
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// schemaTable records applied migration ids.
const schemaTable = "push_engine_migrations"

// all lists schema changes in apply order. Ids are never renumbered.
func all() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createPushSubscriptionsTable(),
		createVapidKeysTable(),
	}
}

// Migrate brings the subscription and key tables up to date inside one transaction.
func Migrate(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	migrations := all()
	options := &gormigrate.Options{
		TableName:                 schemaTable,
		IDColumnName:              "id",
		IDColumnSize:              255,
		UseTransaction:            true,
		ValidateUnknownMigrations: true,
	}

	if err := gormigrate.New(db.WithContext(ctx), options, migrations).Migrate(); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("schema up to date",
		zap.String("version", migrations[len(migrations)-1].ID),
		zap.Int("migrations", len(migrations)),
	)
	return nil
}

func execAll(tx *gorm.DB, statements ...string) error {
	for _, stmt := range statements {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
