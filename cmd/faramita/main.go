package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"faramita/internal/archive"
	"faramita/internal/client"
	"faramita/internal/config"
	"faramita/internal/dice"
	"faramita/internal/engine"
	"faramita/internal/logging"
	"faramita/internal/store"
	"faramita/internal/watch"
)

var (
	// Global flags
	verbose       bool
	configPath    string
	dataDir       string
	watchTemplate string

	logger *zap.Logger
	cfg    config.Config
)

// rootCmd launches the interactive session when run without arguments.
var rootCmd = &cobra.Command{
	Use:   "faramita",
	Short: "faramita - AI game master for persistent tabletop worlds",
	Long: `faramita runs a turn-based narrative session against an OpenAI-compatible
model. The world lives in a local entity store; every turn the model
receives a filtered snapshot, narrates, and proposes world mutations
that are reconciled back into the store.

Run without arguments to start the interactive session.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Verbose = true
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// Interactive mode owns stdout; route logs to a file beside
		// the data so they don't tear the session text.
		outputPath := ""
		if cmd.CalledAs() == "faramita" {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return err
			}
			outputPath = filepath.Join(cfg.DataDir, "faramita.log")
		}
		logger, err = logging.New(cfg.Verbose, outputPath)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive()
	},
}

// importCmd seeds a fresh store from a world book file.
var importCmd = &cobra.Command{
	Use:   "import [template.json]",
	Short: "Seed an empty world store from a template file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, st, err := buildEngine(nil)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		before, err := st.CountCards(ctx)
		if err != nil {
			return err
		}
		if before > 0 {
			return fmt.Errorf("store already holds %d cards; use a fresh data dir or sync instead", before)
		}
		if err := eng.ImportTemplate(ctx, args[0]); err != nil {
			return err
		}
		after, err := st.CountCards(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d cards from %s\n", after, args[0])
		return nil
	},
}

// exportCmd writes the live world back out as a template file.
var exportCmd = &cobra.Command{
	Use:   "export [template.json]",
	Short: "Export the world store to a template file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, st, err := buildEngine(nil)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := eng.ExportTemplate(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Exported world to", args[0])
		return nil
	},
}

// savesCmd lists the current world's archives, newest first.
var savesCmd = &cobra.Command{
	Use:   "saves",
	Short: "List session archives for the current world",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, st, err := buildEngine(nil)
		if err != nil {
			return err
		}
		defer st.Close()

		saves, err := eng.ListArchives(cmd.Context())
		if err != nil {
			return err
		}
		if len(saves) == 0 {
			fmt.Println("No saves yet.")
			return nil
		}
		for _, s := range saves {
			fmt.Printf("%s  %s\n", time.UnixMilli(s.Timestamp).Format(time.DateTime), s.Filename)
		}
		return nil
	},
}

func buildEngine(chat engine.ChatClient) (*engine.Engine, *store.Store, error) {
	st, err := store.Open(filepath.Join(cfg.DataDir, "world.db"), logger)
	if err != nil {
		return nil, nil, err
	}
	if chat == nil {
		chat = client.New(cfg, logger)
	}
	archives := archive.NewManager(filepath.Join(cfg.DataDir, "saves"), logger)
	return engine.New(st, chat, archives, cfg, logger), st, nil
}

func runInteractive() error {
	api := client.New(cfg, logger)
	eng, st, err := buildEngine(api)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down.")
		cancel()
	}()

	if watchTemplate != "" {
		watcher, err := watch.NewTemplateWatcher(watchTemplate, eng.SyncTemplate, logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	if !cfg.ChatReady() {
		fmt.Println("Warning: no API key configured; turns will fail. Set FARAMITA_API_KEY or api_key in the config file.")
	}
	fmt.Println("faramita interactive session. Type your action, or /quit to leave.")
	fmt.Println("Commands: /roll [total], /rollback <turn>, /saves, /load <file>, /image <prompt>, /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := runCommand(ctx, eng, api, line)
			if err != nil {
				fmt.Println("Error:", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := eng.ProcessUserMessage(ctx, line, sinks()); err != nil {
			reportTurnError(err)
			continue
		}
		fmt.Println()
		if pending := eng.PendingInteraction(); pending != nil {
			fmt.Printf("[Dice check] %s (DC %d). Enter /roll when ready.\n",
				pending.Description, pending.DC)
		}
	}
}

// runCommand dispatches a /-prefixed session command. The bool result
// requests session exit.
func runCommand(ctx context.Context, eng *engine.Engine, api *client.Client, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/roll":
		total := 0
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return false, fmt.Errorf("usage: /roll [total]")
			}
			total = n
		} else {
			result, err := dice.Roll("1d20+0")
			if err != nil {
				return false, err
			}
			total = result.Total
			fmt.Printf("You rolled %d\n", total)
		}
		if err := eng.ResolveInteraction(ctx, total, sinks()); err != nil {
			return false, err
		}
		fmt.Println()
		return false, nil

	case "/rollback":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /rollback <turn>")
		}
		turn, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, fmt.Errorf("usage: /rollback <turn>")
		}
		if err := eng.Rollback(ctx, turn); err != nil {
			return false, err
		}
		fmt.Printf("Rolled back to before turn %d\n", turn)
		return false, nil

	case "/saves":
		saves, err := eng.ListArchives(ctx)
		if err != nil {
			return false, err
		}
		if len(saves) == 0 {
			fmt.Println("No saves yet.")
			return false, nil
		}
		for _, s := range saves {
			fmt.Printf("%s  %s\n", time.UnixMilli(s.Timestamp).Format(time.DateTime), s.Filename)
		}
		return false, nil

	case "/image":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /image <scene description>")
		}
		if cfg.ImageModel == "" {
			return false, fmt.Errorf("no image_model configured")
		}
		raw, err := api.GenerateImage(ctx, client.ImageOptions{
			Prompt: strings.Join(fields[1:], " "),
		})
		if err != nil {
			return false, err
		}
		fmt.Println(string(raw))
		return false, nil

	case "/load":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /load <file>")
		}
		if err := eng.LoadArchive(ctx, fields[1]); err != nil {
			return false, err
		}
		fmt.Println("Session restored from", fields[1])
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

func sinks() engine.Sinks {
	return engine.Sinks{
		OnToken: func(delta string) { fmt.Print(delta) },
		OnRoll: func(result dice.Result) {
			fmt.Printf("\n[Roll] %s = %d\n", result.Formula, result.Total)
		},
		OnNotification: func(note string) {
			fmt.Printf("\n[World] %s\n", note)
		},
	}
}

func reportTurnError(err error) {
	switch {
	case errors.Is(err, engine.ErrBusy):
		fmt.Println("A turn is still running; wait for it to finish.")
	case errors.Is(err, config.ErrMissingConfig):
		fmt.Println("API not configured. Set FARAMITA_API_KEY and FARAMITA_BASE_URL.")
	default:
		fmt.Println("Error:", err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "faramita.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the world data directory")
	rootCmd.Flags().StringVar(&watchTemplate, "watch-template", "", "Template file to live-sync into the store")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(savesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
