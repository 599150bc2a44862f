// recommend 推薦流程的維運命令列工具。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"recipe-recommender/internal/app"
	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/infrastructure/config"
	"recipe-recommender/internal/pkg/common"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "recommend",
		Short:         "Constrained recipe recommendation operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("fixtures", "", "Seed file loaded into storage before running")
	rootCmd.PersistentFlags().String("storage", "", "Storage backend override (memory|redis)")

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load recipes and taste profiles into Redis",
		RunE:  runSeed,
	}
	seedCmd.Flags().String("file", "configs/fixtures.yaml", "YAML seed file")
	rootCmd.AddCommand(seedCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one recommendation and print the result as JSON",
		RunE:  runOne,
	}
	runCmd.Flags().String("user", "", "User id")
	runCmd.Flags().String("meal", "", "Meal type (breakfast|lunch|snack|dinner)")
	runCmd.Flags().StringSlice("pantry", nil, "Pantry ingredients")
	runCmd.Flags().Bool("show-avoided", false, "Include the avoided list in the output")
	_ = runCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(runCmd)

	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Run recommendations for several users through the worker pool",
		RunE:  runBatch,
	}
	batchCmd.Flags().StringSlice("users", nil, "Comma separated user ids")
	batchCmd.Flags().String("meal", "", "Meal type applied to every user")
	_ = batchCmd.MarkFlagRequired("users")
	rootCmd.AddCommand(batchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 載入設定並套用全域旗標
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := common.InitLogger(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if v, _ := cmd.Flags().GetString("storage"); v != "" {
		cfg.Storage.Backend = v
	}
	if v, _ := cmd.Flags().GetString("fixtures"); v != "" {
		cfg.Storage.FixturePath = v
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer common.Sync()

	file, _ := cmd.Flags().GetString("file")
	if v, _ := cmd.Flags().GetString("storage"); v == "" {
		cfg.Storage.Backend = "redis"
	}
	// 由 Seed 明確載入，不在建立時重複載入
	cfg.Storage.FixturePath = ""

	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	profiles, recipes, err := a.Seed(ctx, file)
	if err != nil {
		return err
	}
	total, err := a.Catalog.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d profiles and %d recipes into %s (catalog size %d)\n",
		profiles, recipes, cfg.Storage.Backend, total)
	return nil
}

func runOne(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer common.Sync()

	user, _ := cmd.Flags().GetString("user")
	meal, _ := cmd.Flags().GetString("meal")
	pantry, _ := cmd.Flags().GetStringSlice("pantry")
	showAvoided, _ := cmd.Flags().GetBool("show-avoided")

	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Recommender.Recommend(ctx, recommend.Request{
		UserID:            user,
		MealType:          meal,
		PantryIngredients: pantry,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", recommend.OutcomeOf(err), err)
	}
	if !showAvoided {
		res.Avoided = nil
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

type batchLine struct {
	UserID  string            `json:"user_id"`
	Outcome string            `json:"outcome"`
	Error   string            `json:"error,omitempty"`
	Result  *recommend.Result `json:"result,omitempty"`
}

func runBatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer common.Sync()

	users, _ := cmd.Flags().GetStringSlice("users")
	meal, _ := cmd.Flags().GetString("meal")

	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	reqs := make([]recommend.Request, len(users))
	for i, u := range users {
		reqs[i] = recommend.Request{UserID: u, MealType: meal}
	}

	failed := 0
	for _, r := range a.Queue.RunBatch(ctx, reqs) {
		line := batchLine{UserID: r.UserID, Outcome: recommend.OutcomeOf(r.Error), Result: r.Result}
		if r.Error != nil {
			line.Error = r.Error.Error()
			failed++
		} else {
			r.Result.Avoided = nil
		}
		if err := writeJSON(cmd.OutOrStdout(), line); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d recommendations failed", failed, len(reqs))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
