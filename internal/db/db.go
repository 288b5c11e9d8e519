package db

import (
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/logging"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/models"
)

// InitMySQL opens the production database and migrates the build schema.
func InitMySQL(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	logging.C("db").Info("MySQL connected and migrated")
	return gdb, nil
}

// InitSQLite opens an on-disk or in-memory sqlite database. Tests use
// ":memory:".
func InitSQLite(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.Website{},
		&models.BuildJob{},
		&models.UserNotification{},
	)
}
