package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedProducts(db)

	log.Println("Seeding completed successfully!")
}

func seedProducts(db *sql.DB) {
	// Prices include PPN.
	products := []struct {
		SKU      string
		Name     string
		Price    float64
		Stock    int
		MinStock int
	}{
		{"SMN-50", "Semen Gresik 50kg", 72000, 200, 20},
		{"SMN-40", "Semen Tiga Roda 40kg", 61500, 150, 20},
		{"BSI-10", "Besi Beton 10mm", 98000, 300, 30},
		{"BSI-08", "Besi Beton 8mm", 64000, 300, 30},
		{"PKU-5", "Paku 5cm (kg)", 22000, 80, 10},
		{"PKU-10", "Paku 10cm (kg)", 23500, 60, 10},
		{"CAT-AVN-5", "Cat Avian 5kg Putih", 185000, 40, 5},
		{"CAT-DLX-25", "Cat Dulux 2.5L", 111000, 35, 5},
		{"PPA-AW-3", "Pipa PVC AW 3 inch", 87500, 70, 10},
		{"PPA-AW-1", "Pipa PVC AW 1/2 inch", 24000, 120, 15},
		{"TRP-15", "Triplek 15mm", 210000, 25, 5},
		{"GTG-KR", "Genteng Keramik", 9500, 1000, 100},
		{"PSR-1", "Pasir Cor (m3)", 320000, 15, 3},
	}

	fmt.Println("Seeding Products...")
	for _, p := range products {
		_, err := db.Exec(`
			INSERT INTO products (id, sku, name, price, stock_quantity, min_stock_level)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sku) DO UPDATE SET
				name = EXCLUDED.name,
				price = EXCLUDED.price,
				stock_quantity = EXCLUDED.stock_quantity,
				min_stock_level = EXCLUDED.min_stock_level,
				updated_at = now();
		`, uuid.New(), p.SKU, p.Name, p.Price, p.Stock, p.MinStock)
		if err != nil {
			log.Printf("Failed to seed product %s: %v", p.SKU, err)
		}
	}
}
