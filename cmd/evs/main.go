package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"evs/internal/app"
	"evs/internal/backup"
	"evs/internal/db"
	"evs/internal/domain"
	"evs/internal/engine"
	"evs/internal/migrate"
	"evs/internal/repo"
	"evs/internal/scheduler"
	"evs/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "evs",
	Short: "Election service CLI",
	Long: `evs runs a small election service with scheduled state transitions.
Elections carry a voting window; a reconciliation sweep opens and closes
them on time. Voters cast a complete ballot exactly once per election.
Snapshots move the whole dataset between instances without losing the
local admin accounts.`,
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
	_ = godotenv.Load()
	viper.SetEnvPrefix("EVS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier for audit events")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(electionCmd())
	rootCmd.AddCommand(positionCmd())
	rootCmd.AddCommand(candidateCmd())
	rootCmd.AddCommand(partyCmd())
	rootCmd.AddCommand(departmentCmd())
	rootCmd.AddCommand(yearCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(voterCmd())
	rootCmd.AddCommand(ballotCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var reconcileEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				cfg := e.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				jwtSecret := cfg.Auth.JWTSecret
				if env := os.Getenv("EVS_JWT_SECRET"); env != "" {
					jwtSecret = env
				}
				if jwtSecret == "" {
					return fmt.Errorf("EVS_JWT_SECRET is required for bearer auth")
				}
				if _, err := app.EnsureAdmin(ctx, e.Repo, os.Getenv("EVS_ADMIN_USER"), os.Getenv("EVS_ADMIN_PASSWORD")); err != nil {
					return err
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:   jwtSecret,
						TokenTTLMin: cfg.Auth.TokenTTLMin,
					},
					SchedulerSecret: cfg.Scheduler.Secret,
				})
				if err != nil {
					return err
				}
				interval := cfg.Scheduler.Interval
				if cmd.Flags().Changed("reconcile-every") {
					interval = reconcileEvery
				}
				if interval > 0 {
					sched, err := scheduler.New(e, interval)
					if err != nil {
						return err
					}
					if err := sched.Start(ctx); err != nil {
						return err
					}
					defer sched.Stop()
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving election API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	cmd.Flags().DurationVar(&reconcileEvery, "reconcile-every", 0, "in-process sweep interval, 0 disables (overrides config)")
	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				changes, err := e.Reconcile(ctx, time.Now().UTC())
				if err != nil {
					return err
				}
				return printJSONOrTable(changes)
			})
		},
	}
	return cmd
}

func electionCmd() *cobra.Command {
	el := &cobra.Command{Use: "election", Short: "Manage elections"}
	el.AddCommand(electionCreateCmd())
	el.AddCommand(electionListCmd())
	el.AddCommand(electionShowCmd())
	el.AddCommand(electionTransitionCmd("publish", "Publish a draft election", func(e *engine.Engine, ctx context.Context, id string) (domain.Election, error) {
		return e.PublishElection(ctx, id, viper.GetString("actor-id"))
	}))
	el.AddCommand(electionTransitionCmd("start", "Open an election manually", func(e *engine.Engine, ctx context.Context, id string) (domain.Election, error) {
		return e.StartElection(ctx, id, viper.GetString("actor-id"))
	}))
	el.AddCommand(electionTransitionCmd("pause", "Pause an active election", func(e *engine.Engine, ctx context.Context, id string) (domain.Election, error) {
		return e.PauseElection(ctx, id, viper.GetString("actor-id"))
	}))
	el.AddCommand(electionDeleteCmd())
	return el
}

func electionCreateCmd() *cobra.Command {
	var name, startAt, endAt, status string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create election",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || startAt == "" || endAt == "" {
				return fmt.Errorf("--name, --start and --end required")
			}
			st, err := time.Parse(time.RFC3339, startAt)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			et, err := time.Parse(time.RFC3339, endAt)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				el, err := e.CreateElection(ctx, engine.CreateElectionInput{
					Name:    name,
					StartAt: st,
					EndAt:   et,
					Status:  status,
					OwnerID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(el)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "election name")
	cmd.Flags().StringVar(&startAt, "start", "", "voting window start (RFC 3339)")
	cmd.Flags().StringVar(&endAt, "end", "", "voting window end (RFC 3339)")
	cmd.Flags().StringVar(&status, "status", "", "initial status (draft or inactive)")
	return cmd
}

func electionListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List elections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListElections(ctx, repo.ElectionFilters{Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Start", "End"})
				for _, el := range items {
					tw.AppendRow(table.Row{el.ID, el.Name, el.Status, el.StartAt, el.EndAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func electionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <election-id>",
		Short: "Show election",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				el, err := e.Repo.GetElection(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(el)
			})
		},
	}
	return cmd
}

func electionTransitionCmd(use, short string, do func(*engine.Engine, context.Context, string) (domain.Election, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <election-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				el, err := do(e, ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(el)
			})
		},
	}
}

func electionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <election-id>",
		Short: "Delete election",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.Repo.DeleteElection(ctx, args[0])
			})
		},
	}
	return cmd
}

func positionCmd() *cobra.Command {
	pos := &cobra.Command{Use: "position", Short: "Manage positions"}

	var electionID, name string
	var max int
	create := &cobra.Command{
		Use:   "create",
		Short: "Create position",
		RunE: func(cmd *cobra.Command, args []string) error {
			if electionID == "" || name == "" {
				return fmt.Errorf("--election and --name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if _, err := e.Repo.GetElection(ctx, electionID); err != nil {
					return err
				}
				if max <= 0 {
					max = 1
				}
				p := domain.Position{
					ID:            newID(),
					ElectionID:    electionID,
					Name:          name,
					MaxSelections: max,
					CreatedAt:     nowString(),
				}
				if err := e.Repo.InsertPosition(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	create.Flags().StringVar(&electionID, "election", "", "election id")
	create.Flags().StringVar(&name, "name", "", "position name")
	create.Flags().IntVar(&max, "max-selections", 1, "maximum selections")
	pos.AddCommand(create)

	var listElection string
	list := &cobra.Command{
		Use:   "list",
		Short: "List positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listElection == "" {
				return fmt.Errorf("--election required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListPositions(ctx, listElection)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listElection, "election", "", "election id")
	pos.AddCommand(list)
	return pos
}

func candidateCmd() *cobra.Command {
	cand := &cobra.Command{Use: "candidate", Short: "Manage candidates"}

	var positionID, partyID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create candidate",
		RunE: func(cmd *cobra.Command, args []string) error {
			if positionID == "" || partyID == "" || name == "" {
				return fmt.Errorf("--position, --party and --name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				pos, err := e.Repo.GetPosition(ctx, positionID)
				if err != nil {
					return err
				}
				c := domain.Candidate{
					ID:         newID(),
					PositionID: pos.ID,
					PartyID:    partyID,
					ElectionID: pos.ElectionID,
					Name:       name,
					CreatedAt:  nowString(),
				}
				if err := e.Repo.InsertCandidate(ctx, c); err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	create.Flags().StringVar(&positionID, "position", "", "position id")
	create.Flags().StringVar(&partyID, "party", "", "party id")
	create.Flags().StringVar(&name, "name", "", "candidate name")
	cand.AddCommand(create)

	var listElection, listPosition string
	list := &cobra.Command{
		Use:   "list",
		Short: "List candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listElection == "" {
				return fmt.Errorf("--election required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListCandidates(ctx, listElection, listPosition)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listElection, "election", "", "election id")
	list.Flags().StringVar(&listPosition, "position", "", "position filter")
	cand.AddCommand(list)
	return cand
}

func partyCmd() *cobra.Command {
	party := &cobra.Command{Use: "party", Short: "Manage parties"}

	var electionID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create party",
		RunE: func(cmd *cobra.Command, args []string) error {
			if electionID == "" || name == "" {
				return fmt.Errorf("--election and --name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if _, err := e.Repo.GetElection(ctx, electionID); err != nil {
					return err
				}
				p := domain.Party{
					ID:         newID(),
					ElectionID: electionID,
					Name:       name,
					CreatedAt:  nowString(),
				}
				if err := e.Repo.InsertParty(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	create.Flags().StringVar(&electionID, "election", "", "election id")
	create.Flags().StringVar(&name, "name", "", "party name")
	party.AddCommand(create)

	var listElection string
	list := &cobra.Command{
		Use:   "list",
		Short: "List parties",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listElection == "" {
				return fmt.Errorf("--election required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListParties(ctx, listElection)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listElection, "election", "", "election id")
	party.AddCommand(list)
	return party
}

func departmentCmd() *cobra.Command {
	dept := &cobra.Command{Use: "department", Short: "Manage departments"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create department",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				d := domain.Department{ID: newID(), Name: name, CreatedAt: nowString()}
				if err := e.Repo.InsertDepartment(ctx, d); err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "department name")
	dept.AddCommand(create)

	list := &cobra.Command{
		Use:   "list",
		Short: "List departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListDepartments(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	dept.AddCommand(list)
	return dept
}

func yearCmd() *cobra.Command {
	year := &cobra.Command{Use: "year", Short: "Manage years"}

	var departmentID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create year",
		RunE: func(cmd *cobra.Command, args []string) error {
			if departmentID == "" || name == "" {
				return fmt.Errorf("--department and --name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				y := domain.Year{ID: newID(), DepartmentID: departmentID, Name: name, CreatedAt: nowString()}
				if err := e.Repo.InsertYear(ctx, y); err != nil {
					return err
				}
				return printJSONOrTable(y)
			})
		},
	}
	create.Flags().StringVar(&departmentID, "department", "", "department id")
	create.Flags().StringVar(&name, "name", "", "year name")
	year.AddCommand(create)

	var listDepartment string
	list := &cobra.Command{
		Use:   "list",
		Short: "List years",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListYears(ctx, listDepartment)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listDepartment, "department", "", "department filter")
	year.AddCommand(list)
	return year
}

func accountCmd() *cobra.Command {
	acc := &cobra.Command{Use: "account", Short: "Manage accounts"}

	var username, email, password, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.CreateAccount(ctx, username, email, password, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	create.Flags().StringVar(&username, "username", "", "login name")
	create.Flags().StringVar(&email, "email", "", "email address")
	create.Flags().StringVar(&password, "password", "", "password")
	create.Flags().StringVar(&role, "role", "voter", "account role (admin or voter)")
	acc.AddCommand(create)

	var listRole string
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListAccounts(ctx, listRole)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Username", "Role", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Username, a.Role, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listRole, "role", "", "role filter")
	acc.AddCommand(list)
	return acc
}

func voterCmd() *cobra.Command {
	voter := &cobra.Command{Use: "voter", Short: "Manage voters"}

	var accountID, electionID, yearID string
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a voter",
		RunE: func(cmd *cobra.Command, args []string) error {
			if accountID == "" {
				return fmt.Errorf("--account required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				v, err := e.RegisterVoter(ctx, accountID, optional(electionID), optional(yearID))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	register.Flags().StringVar(&accountID, "account", "", "account id")
	register.Flags().StringVar(&electionID, "election", "", "election id")
	register.Flags().StringVar(&yearID, "year", "", "year id")
	voter.AddCommand(register)

	eligible := &cobra.Command{
		Use:   "eligible <voter-id>",
		Short: "Mark voter eligible to cast",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				v, err := e.MarkVoterEligible(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	voter.AddCommand(eligible)

	var listElection string
	list := &cobra.Command{
		Use:   "list",
		Short: "List voters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListVoters(ctx, listElection)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Account", "Election", "Status"})
				for _, v := range items {
					election := ""
					if v.ElectionID != nil {
						election = *v.ElectionID
					}
					tw.AppendRow(table.Row{v.ID, v.AccountID, election, v.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listElection, "election", "", "election filter")
	voter.AddCommand(list)
	return voter
}

func ballotCmd() *cobra.Command {
	ballot := &cobra.Command{Use: "ballot", Short: "Cast and inspect ballots"}

	var accountID string
	var selections []string
	cast := &cobra.Command{
		Use:   "cast",
		Short: "Cast a ballot for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if accountID == "" || len(selections) == 0 {
				return fmt.Errorf("--account and at least one --select position=candidate required")
			}
			sel := make(map[string]string, len(selections))
			for _, raw := range selections {
				parts := strings.SplitN(raw, "=", 2)
				if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
					return fmt.Errorf("--select must be position=candidate, got %q", raw)
				}
				sel[parts[0]] = parts[1]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				b, err := e.CastBallot(ctx, accountID, sel)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cast.Flags().StringVar(&accountID, "account", "", "account id of the voter")
	cast.Flags().StringArrayVar(&selections, "select", nil, "selection as position=candidate (repeatable)")
	ballot.AddCommand(cast)

	var statusAccount string
	status := &cobra.Command{
		Use:   "status",
		Short: "Show ballot status for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if statusAccount == "" {
				return fmt.Errorf("--account required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				st, err := e.BallotStatusFor(ctx, statusAccount)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	status.Flags().StringVar(&statusAccount, "account", "", "account id of the voter")
	ballot.AddCommand(status)
	return ballot
}

func backupCmd() *cobra.Command {
	bk := &cobra.Command{Use: "backup", Short: "Export and restore snapshots"}

	var exportFile string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := backup.Export(ctx, e.DB, time.Now().UTC())
				if err != nil {
					return err
				}
				data, err := s.Encode()
				if err != nil {
					return err
				}
				if exportFile == "" {
					fmt.Println(string(data))
					return nil
				}
				if err := os.WriteFile(exportFile, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", exportFile)
				return nil
			})
		},
	}
	export.Flags().StringVar(&exportFile, "file", "", "output file (stdout if empty)")
	bk.AddCommand(export)

	var restoreFile string
	restore := &cobra.Command{
		Use:   "restore",
		Short: "Restore a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if restoreFile == "" {
				return fmt.Errorf("--file required")
			}
			data, err := os.ReadFile(restoreFile)
			if err != nil {
				return err
			}
			s, err := backup.Decode(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := backup.Restore(ctx, e.DB, e.Events, s, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	restore.Flags().StringVar(&restoreFile, "file", "", "snapshot file")
	bk.AddCommand(restore)
	return bk
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var n int
	var evtType, electionID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, electionID, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&electionID, "election", "", "election filter")
	lg.AddCommand(tail)
	return lg
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
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

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}
