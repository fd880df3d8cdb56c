package main

import (
	"context"
	"log"

	"github.com/mercura/order-chat/internal/config"
	"github.com/mercura/order-chat/internal/database"
	"github.com/mercura/order-chat/internal/models"
	"github.com/mercura/order-chat/internal/repository"
)

// Seeds a couple of demo conversations so the admin console has something to
// show on a fresh database.
func main() {
	cfg := config.Load()
	database.Connect(cfg)
	database.Migrate()

	repo := repository.NewMessageRepository(database.DB, cfg.HistoryLimit)
	ctx := context.Background()

	var count int64
	if err := database.DB.Model(&models.Message{}).Count(&count).Error; err != nil {
		log.Fatal("Failed to inspect messages table:", err)
	}
	if count > 0 {
		log.Printf("Messages already present (%d rows), nothing to seed", count)
		return
	}

	orderID := "order_01DEMO"
	drafts := []models.MessageDraft{
		{UserID: "cus_demo_alice", OrderID: &orderID, SenderType: models.SenderCustomer,
			Content: "Hi, my order hasn't shipped yet, any update?"},
		{UserID: "cus_demo_alice", SenderType: models.SenderAdmin,
			Content: "Hello! It leaves the warehouse tomorrow morning."},
		{UserID: "cus_demo_bob", SenderType: models.SenderCustomer,
			Content: "Is the blue variant coming back in stock?",
			Metadata: models.Metadata{"product_title": "Canvas Tote", "product_price": 3500}},
		{UserID: "cus_demo_bob", SenderType: models.SenderSystem,
			Content: "Conversation assigned to support."},
	}

	for _, draft := range drafts {
		msg, err := repo.Append(ctx, draft)
		if err != nil {
			log.Fatal("Failed to seed message:", err)
		}
		log.Printf("Seeded message %s for %s", msg.ID, msg.UserID)
	}

	log.Println("Seed completed")
}
