package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/specialist-booking/internal/auth"
	"github.com/hackgods/specialist-booking/internal/config"
	"github.com/hackgods/specialist-booking/internal/db"
	"github.com/hackgods/specialist-booking/internal/logger"
	"github.com/hackgods/specialist-booking/internal/seed"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "seed",
		Short:         "Database and credential tooling for the booking service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(migrateCmd(), seedCmd(), tokenCmd())
	return root
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, "booking-seed")
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			log.Info().Msg("schema applied")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var (
		specialists int
		patients    int
		randSeed    uint64
		migrate     bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert fake specialists, weekly availability and patients",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, "booking-seed")
			if err != nil {
				return err
			}
			defer pool.Close()

			if migrate {
				if err := db.Migrate(ctx, pool); err != nil {
					return err
				}
			}

			log.Info().Int("specialists", specialists).Int("patients", patients).Msg("seed starting")
			ds := seed.Generate(seed.Options{Specialists: specialists, Patients: patients, Seed: randSeed})
			if err := seed.WritePostgres(ctx, pool, ds, log); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			log.Info().Msg("seed complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&specialists, "specialists", 100, "number of specialists")
	cmd.Flags().IntVar(&patients, "patients", 9000, "number of patients")
	cmd.Flags().Uint64Var(&randSeed, "rand-seed", 0, "seed for reproducible data, 0 is random")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply the schema first")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject      string
		role         string
		specialistID string
		ttl          time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required")
			}

			caller := auth.Caller{Subject: subject, Role: auth.Role(role)}
			if !caller.Role.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			if caller.Role == auth.RoleSpecialist {
				id, err := uuid.Parse(specialistID)
				if err != nil {
					return fmt.Errorf("--specialist-id: %w", err)
				}
				caller.SpecialistID = id
			}

			token, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer).Issue(caller, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "chat-frontend", "token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleSystem), "specialist or system")
	cmd.Flags().StringVar(&specialistID, "specialist-id", "", "required for the specialist role")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func load() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return config.Config{}, zerolog.Nop(), errors.New("STORE_DRIVER must be postgres")
	}
	return cfg, logger.New(cfg.Env, "seed"), nil
}
