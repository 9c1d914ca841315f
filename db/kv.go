package db

import (
	"errors"
	"strconv"

	"gorm.io/gorm"
)

// Set sets the value of a key in the database
func Set(db *gorm.DB, key string, value string) error {
	var cfg ConfigTable
	err := db.Model(&ConfigTable{}).Where("name = ?", key).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cfg.Name = key
			cfg.Value = value
			return db.Create(&cfg).Error
		}

		return err
	}

	return db.Model(&ConfigTable{}).Where("name = ?", key).Update("value", value).Error
}

// SetUint64 sets uint64 value of a key in the database
func SetUint64(db *gorm.DB, key string, value uint64) error {
	return Set(db, key, strconv.FormatUint(value, 10))
}

// ListPrefix returns every key starting with prefix and its value.
func ListPrefix(db *gorm.DB, prefix string) (map[string]string, error) {
	var rows []ConfigTable
	if err := db.Model(&ConfigTable{}).Where("name LIKE ?", prefix+"%").Find(&rows).Error; err != nil {
		return nil, err
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Name] = row.Value
	}
	return values, nil
}
