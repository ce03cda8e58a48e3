package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	base "github.com/sodmaq/NestMongo/libs/config"
	"github.com/sodmaq/NestMongo/services/identity/internal/config"
	"github.com/sodmaq/NestMongo/services/identity/internal/security"
	"github.com/sodmaq/NestMongo/services/identity/internal/storage"
)

type seedConfig struct {
	DB     config.DBConfig     `envPrefix:"POSTGRES_"`
	Argon2 config.Argon2Params `envPrefix:"IDENTITY_ARGON2_"`
}

func main() {
	clearOnly := flag.Bool("clear", false, "delete all users and exit")
	reset := flag.Bool("reset", false, "delete all users, then seed")
	flag.Parse()

	appCfg, err := base.Load(os.Getenv("IDENTITY_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := checkEnv(appCfg.Env); err != nil {
		log.Fatalf("%v", err)
	}

	var cfg seedConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse env: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := storage.Connect(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}
	if cfg.DB.Migrate {
		if err := storage.Migrate(ctx, pool); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	s := &seeder{
		users: storage.New(pool),
		hash: func(password string) (string, error) {
			return security.HashPassword(password, security.Argon2Params(cfg.Argon2))
		},
		out: os.Stdout,
	}

	switch {
	case *clearOnly:
		err = s.clear(ctx)
	case *reset:
		if err = s.clear(ctx); err == nil {
			err = s.seed(ctx)
		}
	default:
		err = s.seed(ctx)
	}
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
}

func checkEnv(appEnv string) error {
	if appEnv != "dev" && appEnv != "test" {
		return fmt.Errorf("refusing to seed: IDENTITY_ENV must be 'dev' or 'test' (got '%s')", appEnv)
	}
	return nil
}
