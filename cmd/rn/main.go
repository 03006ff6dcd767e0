package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"ridenet/internal/app"
	"ridenet/internal/config"
	"ridenet/internal/db"
	"ridenet/internal/domain"
	"ridenet/internal/engine"
	"ridenet/internal/migrate"
	"ridenet/internal/repo"
	"ridenet/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rn",
	Short: "RideNet CLI",
	Long: `RideNet settles rides between driver operators and customer operators.
- Workspace: your .ridenet directory holding the settlement database.
- Country: a governed market; its authority approves operators, resolves disputes, and sets parameters.
- Infra: a registered operator (driver side or customer side) with a locked security deposit.
- Driver: a live session under a driver operator, taking one ride at a time.
- Job: one ride; its fee sits in escrow from request until settlement or refund.
- Ledger: the balance buckets (owner, deposit, escrow, treasury) all money moves between.
- Event log: the journal of every state change and fund movement, view with 'rn log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RIDENET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("country", "", "country code (overrides single-country default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("country", rootCmd.PersistentFlags().Lookup("country"))
}

func registerCommands() {
	rootCmd.AddCommand(countryCmd())
	rootCmd.AddCommand(infraCmd())
	rootCmd.AddCommand(driverCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorID() string { return viper.GetString("actor-id") }

// --- country ---

func countryCmd() *cobra.Command {
	c := &cobra.Command{Use: "country", Short: "Manage countries"}
	c.AddCommand(countryInitCmd())
	c.AddCommand(countryListCmd())
	c.AddCommand(countryShowCmd())
	c.AddCommand(countrySetAuthorityCmd())
	c.AddCommand(countryConfigCmd())
	return c
}

func countryInitCmd() *cobra.Command {
	var alpha3, authority, configPath string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize or update a country",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var cfg *config.Country
				if configPath != "" {
					var err error
					cfg, err = config.FromFile(configPath)
					if err != nil {
						return err
					}
				}
				c, err := e.InitOrUpdateCountry(ctx, strings.ToUpper(alpha3), authority, cfg, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&alpha3, "alpha3", "", "3-letter country code")
	cmd.Flags().StringVar(&authority, "authority-id", "", "authority actor (defaults to --actor-id)")
	cmd.Flags().StringVar(&configPath, "config", "", "country parameters YAML file")
	_ = cmd.MarkFlagRequired("alpha3")
	return cmd
}

func countryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List countries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCountries(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Alpha3", "Authority", "Driver Infras", "Customer Infras", "Created"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.Alpha3, c.AuthorityID, c.DriverInfraCounter, c.CustomerInfraCounter, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func countryShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [alpha3]",
		Short: "Show a country and its parameters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				target := viper.GetString("country")
				if len(args) == 1 {
					target = args[0]
				}
				alpha3, cfg, err := app.ResolveCountry(ctx, strings.ToUpper(target), r)
				if err != nil {
					return err
				}
				c, err := r.GetCountry(ctx, alpha3)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"country": c, "config": cfg})
				}
				out, err := cfg.ToYAML()
				if err != nil {
					return err
				}
				fmt.Printf("%s (authority %s)\n\n%s", c.Alpha3, c.AuthorityID, out)
				return nil
			})
		},
	}
	return cmd
}

func countrySetAuthorityCmd() *cobra.Command {
	var alpha3, newAuthority string
	cmd := &cobra.Command{
		Use:   "set-authority",
		Short: "Hand over country governance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetCountryAuthority(ctx, strings.ToUpper(alpha3), newAuthority, actorID())
			})
		},
	}
	cmd.Flags().StringVar(&alpha3, "alpha3", "", "3-letter country code")
	cmd.Flags().StringVar(&newAuthority, "authority-id", "", "new authority actor")
	_ = cmd.MarkFlagRequired("alpha3")
	_ = cmd.MarkFlagRequired("authority-id")
	return cmd
}

func countryConfigCmd() *cobra.Command {
	var alpha3 string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print default country parameters for editing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if alpha3 == "" {
				alpha3 = "XXX"
			}
			fmt.Print(config.GenerateDefault(strings.ToUpper(alpha3)))
			return nil
		},
	}
	cmd.Flags().StringVar(&alpha3, "alpha3", "", "3-letter country code")
	return cmd
}

// --- infra ---

func infraCmd() *cobra.Command {
	c := &cobra.Command{Use: "infra", Short: "Manage operators"}
	c.AddCommand(infraRegisterCmd())
	c.AddCommand(infraListCmd())
	c.AddCommand(infraShowCmd())
	c.AddCommand(infraApproveCmd())
	c.AddCommand(infraSuspendCmd())
	c.AddCommand(infraReinstateCmd())
	c.AddCommand(infraSlashCmd())
	c.AddCommand(infraSetBPCmd())
	c.AddCommand(infraUpdateCompanyCmd())
	return c
}

func infraRegisterCmd() *cobra.Command {
	var kind, country, company, registryID, website string
	var bp uint16
	var expectedSeq uint64
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a driver or customer operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RegisterInfra(ctx, engine.InfraRegisterOptions{
					Kind:             kind,
					CountryCode:      strings.ToUpper(country),
					OwnerID:          actorID(),
					FeeBasisPoints:   bp,
					CompanyName:      company,
					EntityRegistryID: registryID,
					Website:          website,
					ExpectedSeq:      expectedSeq,
					ActorID:          actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "driver or customer")
	cmd.Flags().StringVar(&country, "country-code", "", "3-letter country code")
	cmd.Flags().Uint16Var(&bp, "basis-points", 0, "fee share in basis points")
	cmd.Flags().StringVar(&company, "company-name", "", "company name")
	cmd.Flags().StringVar(&registryID, "entity-registry-id", "", "company registry id")
	cmd.Flags().StringVar(&website, "website", "", "company website")
	cmd.Flags().Uint64Var(&expectedSeq, "expected-seq", 0, "fail unless assigned this sequence")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("country-code")
	return cmd
}

func infraListCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListInfras(ctx, strings.ToUpper(viper.GetString("country")), kind)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Country", "Owner", "BP", "Verified", "Frozen", "Rides", "Cancels", "Disputes"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Kind, a.CountryCode, a.OwnerID, a.FeeBasisPoints, a.IsVerified, a.IsFrozen, a.MatchedRide, a.Cancellation, a.DisputeCases})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind")
	return cmd
}

func infraShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <infra-id>",
		Short: "Show an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetInfra(ctx, args[0])
				if err != nil {
					return err
				}
				deposit, err := e.Balance(ctx, domain.DepositAccount(a.ID))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"infra": a, "deposit_balance": deposit})
			})
		},
	}
}

func infraApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <infra-id>",
		Short: "Approve a registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ApproveInfra(ctx, args[0], actorID())
			})
		},
	}
}

func infraSuspendCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "suspend <infra-id>",
		Short: "Suspend an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SuspendInfra(ctx, args[0], reason, actorID())
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "suspension reason")
	return cmd
}

func infraReinstateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reinstate <infra-id>",
		Short: "Lift a suspension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ReinstateInfra(ctx, args[0], actorID())
			})
		},
	}
}

func infraSlashCmd() *cobra.Command {
	var multiplier float64
	var reason string
	cmd := &cobra.Command{
		Use:   "slash <infra-id>",
		Short: "Slash an operator's security deposit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				amount, err := e.SlashInfra(ctx, args[0], multiplier, reason, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"slashed": amount})
			})
		},
	}
	cmd.Flags().Float64Var(&multiplier, "multiplier", 1, "base slash amount multiplier")
	cmd.Flags().StringVar(&reason, "reason", "", "slash reason")
	return cmd
}

func infraSetBPCmd() *cobra.Command {
	var bp uint16
	cmd := &cobra.Command{
		Use:   "set-bp <infra-id>",
		Short: "Set an operator's fee share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetInfraBasisPoint(ctx, args[0], bp, actorID())
			})
		},
	}
	cmd.Flags().Uint16Var(&bp, "basis-points", 0, "fee share in basis points")
	_ = cmd.MarkFlagRequired("basis-points")
	return cmd
}

func infraUpdateCompanyCmd() *cobra.Command {
	var company, registryID, website string
	cmd := &cobra.Command{
		Use:   "update-company <infra-id>",
		Short: "Update company details (freezes until re-approved)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpdateInfraCompany(ctx, args[0], company, registryID, website, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&company, "company-name", "", "company name")
	cmd.Flags().StringVar(&registryID, "entity-registry-id", "", "company registry id")
	cmd.Flags().StringVar(&website, "website", "", "company website")
	_ = cmd.MarkFlagRequired("company-name")
	return cmd
}

// --- driver ---

func driverCmd() *cobra.Command {
	c := &cobra.Command{Use: "driver", Short: "Manage driver sessions"}
	c.AddCommand(driverStartCmd())
	c.AddCommand(driverShowCmd())
	c.AddCommand(driverLocateCmd())
	c.AddCommand(driverEndCmd())
	return c
}

func driverStartCmd() *cobra.Command {
	var driverUUID, infraID, vehicle, pubkey string
	var lat, long float64
	var seats uint8
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open a driver session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.StartWork(ctx, engine.StartWorkOptions{
					DriverUUID: driverUUID,
					InfraID:    infraID,
					Location:   domain.Coordinates{Lat: lat, Long: long},
					RSAPubkey:  pubkey,
					Vehicle:    vehicle,
					Seats:      seats,
					ActorID:    actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&driverUUID, "uuid", "", "driver uuid")
	cmd.Flags().StringVar(&infraID, "infra-id", "", "driver operator id")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&long, "long", 0, "longitude")
	cmd.Flags().StringVar(&vehicle, "vehicle", "", "vehicle description")
	cmd.Flags().Uint8Var(&seats, "seats", 0, "seats")
	cmd.Flags().StringVar(&pubkey, "rsa-pubkey", "", "driver RSA public key (PEM)")
	_ = cmd.MarkFlagRequired("uuid")
	_ = cmd.MarkFlagRequired("infra-id")
	return cmd
}

func driverShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <driver-uuid>",
		Short: "Show a driver session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func driverLocateCmd() *cobra.Command {
	var lat, long, nextLat, nextLong float64
	var hasNext bool
	cmd := &cobra.Command{
		Use:   "locate <driver-uuid>",
		Short: "Update a driver's location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var next *domain.Coordinates
				if hasNext {
					next = &domain.Coordinates{Lat: nextLat, Long: nextLong}
				}
				return e.UpdateLocation(ctx, args[0], domain.Coordinates{Lat: lat, Long: long}, next, actorID())
			})
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&long, "long", 0, "longitude")
	cmd.Flags().Float64Var(&nextLat, "next-lat", 0, "heading latitude")
	cmd.Flags().Float64Var(&nextLong, "next-long", 0, "heading longitude")
	cmd.Flags().BoolVar(&hasNext, "with-next", false, "include heading coordinates")
	return cmd
}

func driverEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <driver-uuid>",
		Short: "Close a driver session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.EndWork(ctx, args[0], actorID())
			})
		},
	}
}

// --- job ---

func jobCmd() *cobra.Command {
	c := &cobra.Command{Use: "job", Short: "Manage rides"}
	c.AddCommand(jobRequestCmd())
	c.AddCommand(jobListCmd())
	c.AddCommand(jobShowCmd())
	c.AddCommand(jobAcceptCmd())
	c.AddCommand(jobActionCmd("arrive", "Mark arrival at pickup", func(e engine.Engine) jobActionFn { return e.ArriveAtPickup }))
	c.AddCommand(jobActionCmd("pickup", "Start the ride", func(e engine.Engine) jobActionFn { return e.PickupRider }))
	c.AddCommand(jobActionCmd("complete", "Finish the ride", func(e engine.Engine) jobActionFn { return e.CompleteJob }))
	c.AddCommand(jobActionCmd("dispute", "Raise an issue", func(e engine.Engine) jobActionFn { return e.RaiseIssue }))
	c.AddCommand(jobSettleCmd())
	c.AddCommand(jobCancelDriverCmd())
	c.AddCommand(jobCancelRiderCmd())
	c.AddCommand(jobResolveCmd())
	return c
}

func parseJobArgs(args []string) (string, uint64, error) {
	seq, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid sequence %q", args[1])
	}
	return args[0], seq, nil
}

func jobRequestCmd() *cobra.Command {
	var customerInfra, driverInfra, encData, encKey string
	var totalFee uint64
	var pickupLat, pickupLong, dropLat, dropLong float64
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request a ride",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.RequestRide(ctx, engine.RideRequestOptions{
					CustomerInfraID:    customerInfra,
					DriverInfraID:      driverInfra,
					TotalFee:           totalFee,
					Pickup:             domain.Coordinates{Lat: pickupLat, Long: pickupLong},
					Drop:               domain.Coordinates{Lat: dropLat, Long: dropLong},
					EncryptedData:      encData,
					EncryptedSharedKey: encKey,
					ActorID:            actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&customerInfra, "customer-infra", "", "customer operator id")
	cmd.Flags().StringVar(&driverInfra, "driver-infra", "", "driver operator id")
	cmd.Flags().Uint64Var(&totalFee, "total-fee", 0, "total fee to escrow")
	cmd.Flags().Float64Var(&pickupLat, "pickup-lat", 0, "pickup latitude")
	cmd.Flags().Float64Var(&pickupLong, "pickup-long", 0, "pickup longitude")
	cmd.Flags().Float64Var(&dropLat, "drop-lat", 0, "dropoff latitude")
	cmd.Flags().Float64Var(&dropLong, "drop-long", 0, "dropoff longitude")
	cmd.Flags().StringVar(&encData, "encrypted-data", "", "encrypted ride details")
	cmd.Flags().StringVar(&encKey, "encrypted-shared-key", "", "encrypted shared key")
	_ = cmd.MarkFlagRequired("customer-infra")
	_ = cmd.MarkFlagRequired("driver-infra")
	_ = cmd.MarkFlagRequired("total-fee")
	return cmd
}

func jobListCmd() *cobra.Command {
	var driverInfra string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rides of a driver operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListJobs(ctx, driverInfra)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Driver Infra", "Seq", "Customer Infra", "Status", "Fee", "Driver"})
				for _, j := range items {
					tw.AppendRow(table.Row{j.DriverInfraID, j.Seq, j.CustomerInfraID, j.Status, j.TotalFee, j.DriverUUID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&driverInfra, "driver-infra", "", "driver operator id")
	_ = cmd.MarkFlagRequired("driver-infra")
	return cmd
}

func jobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <driver-infra-id> <seq>",
		Short: "Show a ride with its escrow balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			driverInfra, seq, err := parseJobArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.Repo.GetJob(ctx, driverInfra, seq)
				if err != nil {
					return err
				}
				escrow, err := e.Balance(ctx, domain.EscrowAccount(driverInfra, seq))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"job": j, "escrow_balance": escrow})
			})
		},
	}
}

func jobAcceptCmd() *cobra.Command {
	var driverUUID string
	var expectedFee uint64
	cmd := &cobra.Command{
		Use:   "accept <driver-infra-id> <seq>",
		Short: "Accept a ride",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			driverInfra, seq, err := parseJobArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.AcceptJob(ctx, driverInfra, seq, driverUUID, expectedFee, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&driverUUID, "uuid", "", "driver uuid")
	cmd.Flags().Uint64Var(&expectedFee, "expected-fee", 0, "fee the driver side expects")
	_ = cmd.MarkFlagRequired("uuid")
	_ = cmd.MarkFlagRequired("expected-fee")
	return cmd
}

type jobActionFn func(ctx context.Context, driverInfraID string, seq uint64, actorID string) (domain.Job, error)

func jobActionCmd(use, short string, pick func(engine.Engine) jobActionFn) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <driver-infra-id> <seq>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			driverInfra, seq, err := parseJobArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := pick(e)(ctx, driverInfra, seq, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
}

func jobSettleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle <driver-infra-id> <seq>",
		Short: "Settle a completed ride",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			driverInfra, seq, err := parseJobArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				payouts, err := e.SettleJob(ctx, driverInfra, seq, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"payouts": payouts})
			})
		},
	}
}

func jobCancelDriverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-driver <driver-infra-id> <seq>",
		Short: "Cancel from the driver side",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			driverInfra, seq, err := parseJobArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DriverCancelJob(ctx, driverInfra, seq, actorID())
			})
		},
	}
}

func jobCancelRiderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-rider <driver-infra-id> <seq>",
		Short: "Cancel from the customer side",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			driverInfra, seq, err := parseJobArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RiderCancelRide(ctx, driverInfra, seq, actorID())
			})
		},
	}
}

func jobResolveCmd() *cobra.Command {
	var winner string
	cmd := &cobra.Command{
		Use:   "resolve <driver-infra-id> <seq>",
		Short: "Resolve a disputed ride",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			driverInfra, seq, err := parseJobArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				payouts, err := e.ResolveDispute(ctx, driverInfra, seq, winner, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"payouts": payouts})
			})
		},
	}
	cmd.Flags().StringVar(&winner, "winner", "", "driver or customer")
	_ = cmd.MarkFlagRequired("winner")
	return cmd
}

// --- ledger ---

func ledgerCmd() *cobra.Command {
	c := &cobra.Command{Use: "ledger", Short: "Manage funds"}
	c.AddCommand(ledgerDepositCmd())
	c.AddCommand(ledgerBalanceCmd())
	c.AddCommand(ledgerTransferCmd())
	return c
}

func ledgerDepositCmd() *cobra.Command {
	var amount uint64
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Credit the caller's owner account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				balance, err := e.Deposit(ctx, actorID(), amount)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"account": domain.OwnerAccount(actorID()), "balance": balance})
			})
		},
	}
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to credit")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func ledgerBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [account-id]",
		Short: "Read a balance (defaults to the caller's owner account)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				account := domain.OwnerAccount(actorID())
				if len(args) == 1 {
					account = args[0]
				}
				balance, err := e.Balance(ctx, account)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"account": account, "balance": balance})
			})
		},
	}
}

func ledgerTransferCmd() *cobra.Command {
	var to string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer from the caller's owner account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.TransferFunds(ctx, actorID(), to, amount)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "destination account id")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// --- api keys ---

func apikeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	c.AddCommand(apikeyCreateCmd())
	c.AddCommand(apikeyListCmd())
	c.AddCommand(apikeyDeleteCmd())
	return c
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				plaintext := "rn_" + uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID(),
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "key": plaintext})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the caller's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

// --- log ---

func logCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The journal of every state change and fund movement.",
	}
	c.AddCommand(logTailCmd())
	return c
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, repo.EventFilters{
					Country:    strings.ToUpper(viper.GetString("country")),
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath, webhooksPath, seedCountry string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn)
			if seedCountry != "" {
				if err := app.SeedCountry(cmd.Context(), e, strings.ToUpper(seedCountry), actorID()); err != nil {
					return err
				}
			}
			authCfg := server.AuthConfig{
				JWTSecret:      os.Getenv("RIDENET_JWT_SECRET"),
				EnableDevLogin: devLogin,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("RIDENET_JWT_SECRET is required for bearer auth")
			}
			var hooks []server.WebhookConfig
			if webhooksPath != "" {
				data, err := os.ReadFile(webhooksPath)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(data, &hooks); err != nil {
					return fmt.Errorf("invalid webhooks config: %w", err)
				}
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Webhooks: hooks})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving RideNet API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&webhooksPath, "webhooks", "", "webhook subscribers YAML file")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the dev token endpoint")
	cmd.Flags().StringVar(&seedCountry, "seed-country", "", "initialize this country with defaults on startup")
	return cmd
}

// --- shared helpers ---

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
