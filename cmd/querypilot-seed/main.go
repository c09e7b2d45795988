// Command querypilot-seed creates a small demo schema with sample data so
// the assistant can be exercised without an existing database.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

var schemaStatements = []string{
	`DROP TABLE IF EXISTS equipment_requests`,
	`DROP TABLE IF EXISTS employees`,
	`DROP TABLE IF EXISTS departments`,
	`CREATE TABLE departments (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		location TEXT NOT NULL
	)`,
	`CREATE TABLE employees (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		department_id INTEGER NOT NULL REFERENCES departments(id),
		hired_at DATE NOT NULL,
		salary NUMERIC(10,2) NOT NULL
	)`,
	`CREATE TABLE equipment_requests (
		id SERIAL PRIMARY KEY,
		employee_id INTEGER NOT NULL REFERENCES employees(id),
		item TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		requested_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

var dataStatements = []string{
	`INSERT INTO departments (name, location) VALUES
		('Engineering', 'Seoul'),
		('Sales', 'Busan'),
		('Operations', 'Seoul')`,
	`INSERT INTO employees (name, email, department_id, hired_at, salary) VALUES
		('Alice Kim', 'alice@example.com', 1, '2021-03-15', 82000),
		('Bob Lee', 'bob@example.com', 1, '2022-07-01', 74000),
		('Carol Park', 'carol@example.com', 2, '2020-01-20', 68000),
		('Dan Choi', 'dan@example.com', 3, '2023-02-11', 59000),
		('Erin Jung', 'erin@example.com', 2, '2024-03-21', 61000)`,
	`INSERT INTO equipment_requests (employee_id, item, status, requested_at) VALUES
		(1, 'laptop', 'approved', '2024-03-01T09:30:00Z'),
		(1, 'monitor', 'pending', '2024-03-21T14:00:00Z'),
		(3, 'headset', 'approved', '2024-02-10T11:15:00Z'),
		(4, 'standing desk', 'rejected', '2024-03-18T16:45:00Z'),
		(5, 'laptop', 'pending', '2024-03-21T10:05:00Z')`,
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	skipData := flag.Bool("schema-only", false, "create tables without sample rows")
	flag.Parse()

	if os.Getenv("GIN_MODE") != "release" {
		if err := godotenv.Load(); err != nil {
			log.Println("WARNING: No .env file found for local development.")
		}
	}
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("❌ FATAL: POSTGRES_DSN environment variable is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("❌ FATAL: Could not open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("❌ FATAL: Could not connect to PostgreSQL: %v", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Fatalf("❌ FATAL: Schema statement failed: %v\n%s", err, stmt)
		}
	}
	log.Println("✅ Demo schema created.")

	if *skipData {
		return
	}
	for _, stmt := range dataStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Fatalf("❌ FATAL: Seed statement failed: %v\n%s", err, stmt)
		}
	}
	log.Println("✅ Sample data inserted.")
}
