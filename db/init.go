package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/config"
)

// Init opens the MySQL database and migrates the relayer tables.
func Init(cfg config.Database) (*gorm.DB, error) {
	dns := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local", cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
	db, err := gorm.Open(mysql.Open(dns), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&ConfigTable{}, &PendingTask{}, &PendingTaskMember{}); err != nil {
		return nil, err
	}

	return db, nil
}
