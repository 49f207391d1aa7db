package routes

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletledger/internal/accountno"
	"github.com/congo-pay/walletledger/internal/auth"
	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/middleware"
	"github.com/congo-pay/walletledger/internal/notification"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. At most one
// of DB and SQL is set; with neither, in-memory stores are used.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	SQL    *sql.DB
	Cache  *redis.Client
	Logger *slog.Logger
}

type stores struct {
	users   identity.Repository
	wallets wallet.Repository
	ledger  ledger.Store
}

func (d Deps) stores() stores {
	switch {
	case d.DB != nil:
		return stores{
			users:   identity.NewPostgresRepository(d.DB),
			wallets: wallet.NewPostgresRepository(d.DB),
			ledger:  ledger.NewPostgresStore(d.DB),
		}
	case d.SQL != nil:
		return stores{
			users:   identity.NewSQLiteRepository(d.SQL),
			wallets: wallet.NewSQLiteRepository(d.SQL),
			ledger:  ledger.NewSQLiteStore(d.SQL),
		}
	default:
		return stores{
			users:   identity.NewMemoryRepository(),
			wallets: wallet.NewMemoryRepository(),
			ledger:  ledger.NewInMemoryStore(),
		}
	}
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil && d.SQL == nil {
			return errors.New("a persistent store is required outside development")
		}
		if d.Cache == nil {
			return errors.New("redis is required outside development")
		}
	}

	if d.Logger == nil {
		d.Logger = logging.Discard()
	}

	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	app.Use(recover.New())

	s := d.stores()
	identitySvc := identity.NewService(s.users, d.Logger)
	authSvc := auth.NewService(d.Cfg, s.users)
	walletSvc := wallet.NewService(wallet.Deps{
		Repo:     s.wallets,
		Users:    s.users,
		Ledger:   ledger.NewService(s.ledger),
		Numbers:  accountno.New(),
		Notifier: notification.NewLoggerNotifier(d.Logger),
		Logger:   d.Logger,
	})

	RegisterHealthRoutes(app, d)
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     true,
			"message":    "pong",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAuthRoutes(app, auth.NewHandler(identitySvc, authSvc, d.Logger),
		middleware.LoginRateLimit(d.Cache, d.Cfg.LoginAttemptsPerMinute, d.Logger))

	protected := app.Group("/wallet", middleware.Authenticate(authSvc))
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))

	return nil
}
