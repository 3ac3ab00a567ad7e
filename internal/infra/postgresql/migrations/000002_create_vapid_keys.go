package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"gorm.io/gorm"
)

func createVapidKeysTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_vapid_keys",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.VapidKeyModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_vapid_keys_single_active ON vapid_keys (active) WHERE active`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx,
				`DROP INDEX IF EXISTS idx_vapid_keys_single_active`,
				`DROP TABLE IF EXISTS vapid_keys`,
			)
		},
	}
}
