package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/xtrntr/factoring/internal/auth"
	"github.com/xtrntr/factoring/internal/config"
	"github.com/xtrntr/factoring/internal/db"
	"github.com/xtrntr/factoring/internal/deal"
	"github.com/xtrntr/factoring/internal/invoice"
	"github.com/xtrntr/factoring/internal/messaging"
	"github.com/xtrntr/factoring/internal/models"
	"github.com/xtrntr/factoring/internal/policy"
	"github.com/xtrntr/factoring/internal/stats"
	"github.com/xtrntr/factoring/internal/users"
	"go.uber.org/zap"
)

type seedUser struct {
	id      string
	role    models.Role
	profile users.Profile
}

var seedUsers = []seedUser{
	{"seller1", models.RoleSeller, users.Profile{Name: "Tanaka Taro", CompanyName: "Tanaka Manufacturing"}},
	{"buyer1", models.RoleBuyer, users.Profile{Name: "Sato Hanako", CompanyName: "Sakura Capital", Budget: "10,000,000 JPY", AppealPoint: "Same-day funding for manufacturers."}},
	{"admin", models.RoleAdmin, users.Profile{Name: "Marketplace Admin"}},
}

func int64p(v int64) *int64 { return &v }

// Seed the database with demo users, invoices and a deal in negotiation
func main() {
	ctx := context.Background()
	cfg := config.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Database.UseMemoryStore() {
		logger.Fatal("DATABASE_URL is required to seed")
	}

	// Connect to database
	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	issued := make(map[string]string, len(seedUsers))
	for _, u := range seedUsers {
		token, err := tokens.Issue(auth.Principal{ID: u.id, Role: u.role})
		if err != nil {
			logger.Fatal("Failed to issue token", zap.String("user_id", u.id), zap.Error(err))
		}
		issued[u.id] = token
	}

	// First check if we already have users
	n, err := database.CountUsers(ctx, "")
	if err != nil {
		logger.Fatal("Failed to count users", zap.Error(err))
	}
	if n > 0 {
		fmt.Printf("Database already has %d users. No need to seed.\n", n)
		printTokens(issued)
		os.Exit(0)
	}

	session := auth.NewSession(tokens)
	unsubscribe := session.OnPrincipalChanged(func(p *auth.Principal) {
		if p != nil {
			logger.Debug("Acting as", zap.String("user_id", p.ID), zap.String("role", string(p.Role)))
		}
	})
	defer unsubscribe()

	agg := stats.NewAggregator(logger)
	dir := users.NewDirectory(database, agg, logger)
	invoices := invoice.NewRepository(database, logger)
	messages := messaging.NewLog(database, logger)
	engine := deal.NewEngine(database, invoices, messages, agg, logger)
	svc := policy.NewService(session, dir, invoices, engine, messages)

	as := func(id string) {
		if _, err := session.SignIn(issued[id]); err != nil {
			logger.Fatal("Failed to sign in", zap.String("user_id", id), zap.Error(err))
		}
	}

	for _, u := range seedUsers {
		as(u.id)
		if _, err := svc.Register(ctx, u.profile); err != nil {
			logger.Fatal("Failed to register user", zap.String("user_id", u.id), zap.Error(err))
		}
	}

	as("seller1")
	inv1, err := svc.CreateInvoice(ctx, invoice.Attrs{
		Amount:          1000000,
		DueDate:         "2025-06-30",
		Industry:        "Manufacturing",
		CompanySize:     "SMB",
		CompanyCredit:   "Long-standing supplier to a listed automaker",
		RequestedAmount: int64p(950000),
	})
	if err != nil {
		logger.Fatal("Failed to create invoice 1", zap.Error(err))
	}
	if _, err := svc.CreateInvoice(ctx, invoice.Attrs{
		Amount:          500000,
		DueDate:         "2025-07-31",
		Industry:        "Logistics",
		CompanySize:     "Large",
		CompanyCredit:   "A",
		RequestedAmount: int64p(470000),
	}); err != nil {
		logger.Fatal("Failed to create invoice 2", zap.Error(err))
	}

	// Bring invoice 1 into negotiation
	as("buyer1")
	d, _, err := svc.SubmitOffer(ctx, inv1.ID, 950000, "We can fund within two business days.")
	if err != nil {
		logger.Fatal("Failed to submit offer", zap.Error(err))
	}

	as("seller1")
	if _, err := svc.AcceptOffer(ctx, d.ID); err != nil {
		logger.Fatal("Failed to accept offer", zap.Error(err))
	}
	if _, err := svc.PostMessage(ctx, d.ID, "Thank you. Please send the funding schedule."); err != nil {
		logger.Fatal("Failed to post message", zap.Error(err))
	}
	session.SignOut()

	fmt.Println("Seeded 3 users, 2 invoices and 1 deal in negotiation.")
	printTokens(issued)
}

func printTokens(issued map[string]string) {
	fmt.Println("Development tokens:")
	for _, u := range seedUsers {
		fmt.Printf("  %-8s %s\n", u.id, issued[u.id])
	}
}
