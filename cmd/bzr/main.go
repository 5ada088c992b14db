package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bazaar/internal/catalog"
	cl "bazaar/internal/cli"
	"bazaar/internal/config"
	"bazaar/internal/game"
	"bazaar/internal/market"
	"bazaar/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var scopeNames = []string{"global", "category", "product", "location", "location_product"}

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "bzr",
		Short:        "Bazaar market client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "game server base URL")

	root.AddCommand(
		newNewCmd(&apiBase),
		newGamesCmd(&apiBase),
		newUseCmd(&apiBase),
		newAdvanceCmd(&apiBase),
		newPricesCmd(&apiBase),
		newPriceCmd(&apiBase),
		newHistoryCmd(&apiBase),
		newModifiersCmd(&apiBase),
		newEventCmd(&apiBase),
		newEndCmd(&apiBase),
		newSyncCmd(&apiBase),
		newSimulateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newNewCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new game and make it current",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			info, err := newClient(apiBase).NewGame(ctx)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{SessionID: info.SessionID, APIBase: *apiBase, Week: info.Week}); err != nil {
				return err
			}
			printSuccess("New game started: " + info.SessionID)
			return nil
		},
	}
}

func newGamesCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "games",
		Short: "List saved games",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			entries, err := newClient(apiBase).ListGames(ctx)
			if err != nil {
				return err
			}
			current := ""
			if sess, err := cl.LoadSession(); err == nil {
				current = sess.SessionID
			}
			renderGames(entries, current)
			return nil
		},
	}
}

func newUseCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "use [session-id]",
		Short: "Resume a saved game",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) > 0 {
				id = strings.TrimSpace(args[0])
			}
			if id == "" {
				v, err := promptRequired("Session ID")
				if err != nil {
					return err
				}
				id = v
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			info, err := newClient(apiBase).Game(ctx, id)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{SessionID: info.SessionID, APIBase: *apiBase, Week: info.Week}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Resumed %s at week %d.", info.SessionID, info.Week))
			return nil
		},
	}
}

func newAdvanceCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "advance",
		Short: "Advance the market by one week",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Advance(ctx, sess.SessionID, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           "/v1/games/" + sess.SessionID + "/advance",
					IdempotencyKey: idem,
					SessionID:      sess.SessionID,
				})
			}
			sess.Week = out.Week
			if err := cl.SaveSession(sess); err != nil {
				return err
			}
			renderAdvance(out)
			return nil
		},
	}
}

func newPricesCmd(apiBase *string) *cobra.Command {
	var location string
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Show current prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rows, err := newClient(apiBase).Prices(ctx, sess.SessionID, location)
			if err != nil {
				return err
			}
			title := "MARKET"
			if location != "" {
				title = strings.ToUpper(location)
			}
			accent.Printf("\n== %s PRICES ==\n", title)
			renderPriceTable(rows)
			return nil
		},
	}
	cmd.Flags().StringVarP(&location, "location", "l", "", "district to quote")
	return cmd
}

func newPriceCmd(apiBase *string) *cobra.Command {
	var location string
	cmd := &cobra.Command{
		Use:   "price [product]",
		Short: "Show one product's price and trend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			product, err := productFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			row, err := newClient(apiBase).Price(ctx, sess.SessionID, product, location)
			if err != nil {
				return err
			}
			renderPriceDetail(row)
			return nil
		},
	}
	cmd.Flags().StringVarP(&location, "location", "l", "", "district to quote")
	return cmd
}

func newHistoryCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "history [product]",
		Short: "Show recent weekly prices for a product",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			product, err := productFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			h, err := newClient(apiBase).History(ctx, sess.SessionID, product)
			if err != nil {
				return err
			}
			renderHistory(h)
			return nil
		},
	}
}

func newModifiersCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "modifiers",
		Short: "Show active market modifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			set, err := newClient(apiBase).Modifiers(ctx, sess.SessionID)
			if err != nil {
				return err
			}
			renderModifiers(set)
			return nil
		},
	}
}

func newEventCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "event [scope] [key] [value]",
		Short: "Apply a market event modifier",
		Long:  "Scopes: global, category, product, location, location_product (key district/product). Values are clamped to the scope's band.",
		Args:  cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ev, err := eventFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			set, err := newClient(apiBase).ApplyModifier(ctx, sess.SessionID, ev, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           "/v1/games/" + sess.SessionID + "/events/modifier",
					Body:           map[string]any{"scope": ev.Scope, "key": ev.Key, "value": ev.Value},
					IdempotencyKey: idem,
					SessionID:      sess.SessionID,
				})
			}
			printSuccess(fmt.Sprintf("Applied %s modifier.", ev.Scope))
			renderModifiers(set)
			return nil
		},
	}
}

func newEndCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "End the current game and delete its save",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			confirm, err := promptChoice("Delete save "+sess.SessionID+"?", []string{"yes", "no"}, "no")
			if err != nil {
				return err
			}
			if confirm != "yes" {
				printInfo("Kept.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := newClient(apiBase).EndGame(ctx, sess.SessionID); err != nil {
				return err
			}
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Game ended.")
			return nil
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally queued offline writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := openQueue()
			if err != nil {
				return err
			}
			pending, err := queue.Load()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			sent, dropped, err := queue.Drain(func(q syncq.Command) (bool, error) {
				out, err := client.Do(ctx, q.Method, q.Path, q.Body, q.IdempotencyKey)
				if err != nil {
					printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
					return !cl.IsAPIError(err), err
				}
				if strings.HasSuffix(q.Path, "/advance") {
					if adv, err := decodeInto[game.AdvanceResult](out); err == nil {
						printInfo(fmt.Sprintf("Week %d replayed for %s.", adv.Week, q.SessionID))
					}
				}
				return false, nil
			})
			if err != nil {
				return err
			}
			left, err := queue.Load()
			if err != nil {
				return err
			}
			if len(dropped) > 0 {
				printWarn(fmt.Sprintf("%d queued writes were rejected by the server and dropped.", len(dropped)))
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", sent, len(left)))
			return nil
		},
	}
}

// newSimulateCmd runs the market locally without a server.
func newSimulateCmd() *cobra.Command {
	var (
		weeks       int
		seed        int64
		mode        string
		catalogPath string
		location    string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the market offline for a number of weeks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if weeks < 1 {
				return fmt.Errorf("weeks must be >= 1")
			}
			cat, err := catalog.Load(catalogPath)
			if err != nil {
				return err
			}
			src := market.NewEntropySource()
			if seed != 0 {
				src = market.NewSeededSource(seed)
			}
			sim := market.NewSimulator(cat.All(), market.Options{
				Source:    src,
				Tuning:    market.TuningFor(mode),
				Locations: cat.Locations(),
			})
			for week := 1; week <= weeks; week++ {
				sim.WeeklyTick(week)
			}
			accent.Printf("\n== SIMULATED %d WEEKS (%s) ==\n", weeks, market.TuningFor(mode).Mode)
			renderSummary(sim.Summary())
			rows, err := simulatedRows(sim, location)
			if err != nil {
				return err
			}
			renderPriceTable(rows)
			return nil
		},
	}
	cmd.Flags().IntVarP(&weeks, "weeks", "w", 12, "weeks to simulate")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 uses entropy)")
	cmd.Flags().StringVar(&mode, "mode", "normal", "volatility mode: calm, normal or wild")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog YAML file (built-in catalog when empty)")
	cmd.Flags().StringVarP(&location, "location", "l", "", "district to quote")
	return cmd
}

func simulatedRows(sim *market.Simulator, location string) ([]game.PriceRow, error) {
	records := sim.Records()
	rows := make([]game.PriceRow, 0, len(records))
	for _, spec := range sim.Specs() {
		rec := records[spec.ID]
		view, err := sim.Trend(spec.ID)
		if err != nil {
			return nil, err
		}
		row := game.PriceRow{
			ProductID:     spec.ID,
			Category:      spec.Category,
			Location:      location,
			Price:         rec.Price,
			PrevPrice:     rec.PrevPrice,
			BasePrice:     spec.BasePrice,
			Trend:         view.Trend,
			ChangePercent: view.ChangePercent,
			Strength:      view.Strength,
		}
		if location != "" {
			p, err := sim.PriceAt(spec.ID, location)
			if err != nil {
				return nil, err
			}
			row.Price = p
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func openQueue() (*syncq.Queue, error) {
	dir, err := cl.BaseDir()
	if err != nil {
		return nil, err
	}
	return syncq.Open(dir)
}

// queueOnNetworkError stores a write for `bzr sync` when the server could
// not be reached. Errors the server answered with are returned as is.
func queueOnNetworkError(err error, command syncq.Command) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	queue, qerr := openQueue()
	if qerr != nil {
		return fmt.Errorf("request failed: %w (queue unavailable: %v)", err, qerr)
	}
	if qerr := queue.Push(command); qerr != nil {
		return fmt.Errorf("request failed: %w (queue write failed: %v)", err, qerr)
	}
	printWarn("Server unreachable; queued for `bzr sync`.")
	return nil
}

func productFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.ToLower(strings.TrimSpace(args[0])), nil
	}
	v, err := promptRequired("Product")
	if err != nil {
		return "", err
	}
	return strings.ToLower(v), nil
}

func eventFromArgsOrPrompt(args []string) (game.ModifierEvent, error) {
	var ev game.ModifierEvent
	var err error
	if len(args) > 0 {
		ev.Scope = strings.ToLower(strings.TrimSpace(args[0]))
	} else if ev.Scope, err = promptChoice("Scope", scopeNames, "global"); err != nil {
		return ev, err
	}
	if ev.Scope == "global" {
		if len(args) == 2 {
			args = []string{args[0], "", args[1]}
		}
	} else if len(args) > 1 {
		ev.Key = strings.TrimSpace(args[1])
	} else if ev.Key, err = promptRequired("Key"); err != nil {
		return ev, err
	}
	if len(args) > 2 {
		v, perr := strconv.ParseFloat(strings.TrimSpace(args[2]), 64)
		if perr != nil {
			return ev, fmt.Errorf("invalid value %q: %w", args[2], perr)
		}
		ev.Value = v
		return ev, nil
	}
	ev.Value, err = promptFloat("Value (multiplier, 1 = neutral)", 0)
	return ev, err
}
