package models

import (
	"log"

	"github.com/repogenesis/qrcheckin/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Participant{},
		&CheckinLog{},
		&MirrorOutboxRecord{},
		&IdempotencyKey{},
	)
}
