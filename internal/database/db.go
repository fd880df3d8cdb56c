package database

import (
	"log"

	"github.com/mercura/order-chat/internal/config"
	"github.com/mercura/order-chat/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func Connect(cfg *config.Config) {
	var err error

	DB, err = gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect database:", err)
	}

	log.Println("Database connected successfully")
}

func Migrate() {
	if err := DB.AutoMigrate(&models.Message{}); err != nil {
		log.Fatal("Migration failed:", err)
	}

	log.Println("Database migration completed")
}
