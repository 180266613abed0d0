package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/loiht2/assistant-runtime/backend/config"
	"github.com/loiht2/assistant-runtime/backend/orchestrator"
	"github.com/loiht2/assistant-runtime/backend/storage"
)

var (
	configPath string
	ledgerSize int
	only       string
)

var rootCmd = &cobra.Command{
	Use:   "inspect-state",
	Short: "Print the persisted runtime state as YAML",
	Long: `Reads the configured status store and prints the status records,
scheduled jobs and the most recent ledger entries of every pool.

Example usage:
  inspect-state --config config.yaml
  inspect-state --only jobs
  inspect-state --ledger 5`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to YAML config file (optional)")
	rootCmd.Flags().IntVar(&ledgerSize, "ledger", 10, "Ledger entries to show per pool (0 for all)")
	rootCmd.Flags().StringVar(&only, "only", "", "Limit output to one section: status, jobs or ledger")
}

type statusView struct {
	Progress  float64   `yaml:"progress"`
	Phase     string    `yaml:"phase"`
	Status    string    `yaml:"status"`
	Running   bool      `yaml:"running"`
	UpdatedAt time.Time `yaml:"updatedAt"`
}

type jobView struct {
	ID        string        `yaml:"id"`
	Name      string        `yaml:"name"`
	Interval  time.Duration `yaml:"interval"`
	Status    string        `yaml:"status"`
	LastRun   time.Time     `yaml:"lastRun"`
	NextRun   time.Time     `yaml:"nextRun"`
	LastError string        `yaml:"lastError,omitempty"`
}

type unitView struct {
	ID          string     `yaml:"id"`
	StartedAt   time.Time  `yaml:"startedAt"`
	CompletedAt *time.Time `yaml:"completedAt,omitempty"`
	Success     bool       `yaml:"success"`
	Error       string     `yaml:"error,omitempty"`
	Payload     string     `yaml:"payload,omitempty"`
}

type report struct {
	TakenAt time.Time             `yaml:"takenAt"`
	Status  map[string]statusView `yaml:"status,omitempty"`
	Jobs    []jobView             `yaml:"jobs,omitempty"`
	Ledger  map[string][]unitView `yaml:"ledger,omitempty"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	switch only {
	case "", "status", "jobs", "ledger":
	default:
		return fmt.Errorf("unknown section %q", only)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := cfg.Connect(ctx); err != nil {
		return err
	}
	defer cfg.Close()

	backend, err := orchestrator.NewBackend(cfg)
	if err != nil {
		return err
	}
	snap := storage.NewStatusStore(backend, nil, nil).Snapshot(ctx)

	out, err := yaml.Marshal(buildReport(snap, only, ledgerSize))
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	_, err = os.Stdout.Write(out)
	return err
}

func buildReport(snap storage.Snapshot, section string, limit int) report {
	r := report{TakenAt: snap.TakenAt}

	if section == "" || section == "status" {
		r.Status = make(map[string]statusView, len(snap.Status))
		for id, rec := range snap.Status {
			r.Status[id] = statusView{
				Progress:  rec.Progress,
				Phase:     rec.Phase,
				Status:    rec.Status,
				Running:   rec.Running,
				UpdatedAt: rec.UpdatedAt,
			}
		}
	}

	if section == "" || section == "jobs" {
		for _, j := range snap.Jobs {
			r.Jobs = append(r.Jobs, jobView{
				ID:        j.ID,
				Name:      j.Name,
				Interval:  j.Interval(),
				Status:    string(j.Status),
				LastRun:   j.LastRun,
				NextRun:   j.NextRun,
				LastError: j.LastError,
			})
		}
		sort.Slice(r.Jobs, func(a, b int) bool { return r.Jobs[a].ID < r.Jobs[b].ID })
	}

	if section == "" || section == "ledger" {
		r.Ledger = make(map[string][]unitView, len(snap.Ledger))
		for pool, units := range snap.Ledger {
			if limit > 0 && len(units) > limit {
				units = units[:limit]
			}
			views := make([]unitView, 0, len(units))
			for _, u := range units {
				v := unitView{ID: u.ID, StartedAt: u.StartedAt, CompletedAt: u.CompletedAt}
				if u.Outcome != nil {
					v.Success = u.Outcome.Success
					v.Error = u.Outcome.Error
					v.Payload = string(u.Outcome.Payload)
				}
				views = append(views, v)
			}
			r.Ledger[pool] = views
		}
	}
	return r
}
