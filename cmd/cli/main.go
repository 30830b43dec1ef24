// Copyright 2025 Storymill Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/storymill/storymill/internal/engine/config"
	"github.com/storymill/storymill/internal/engine/model"
	"github.com/storymill/storymill/internal/engine/repo"
	"github.com/storymill/storymill/internal/pkg/bridge"
	"github.com/storymill/storymill/internal/pkg/pipeline"
	"github.com/storymill/storymill/internal/pkg/steps"
	"github.com/storymill/storymill/internal/pkg/storage"
	"github.com/storymill/storymill/pkg/database"
	"github.com/storymill/storymill/pkg/logger"
	"github.com/storymill/storymill/pkg/version"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "storymill-cli",
	Short: "storymill cli is a command line tool",
	Long:  "storymill cli is a command line tool",
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			return
		}
	},
}

// env bundles what most commands need: config, repositories and a closer.
type env struct {
	cfg   *config.AppConfig
	db    database.Manager
	repos *repo.Repositories
}

func openEnv() (*env, func(), error) {
	cfg := config.NewConf(configFile)
	if err := logger.Init(&cfg.Log); err != nil {
		return nil, nil, err
	}
	db, err := database.NewManager(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	idb := database.NewDatabaseAdapter(db)
	if err := repo.AutoMigrate(idb); err != nil {
		db.Close()
		return nil, nil, err
	}
	jobs := repo.NewJobRepo(idb)
	checkpoints := repo.NewCheckpointRepo(idb)
	e := &env{cfg: cfg, db: db, repos: repo.NewRepositories(jobs, checkpoints)}
	return e, func() { db.Close() }, nil
}

// newDriver wires the execution stack for commands that actually run jobs.
func newDriver(e *env) (*pipeline.BatchDriver, *pipeline.Orchestrator, func(), error) {
	registry, err := config.ProvideRegistry(e.cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := storage.NewStorage(&e.cfg.Storage)
	if err != nil {
		return nil, nil, nil, err
	}
	b := bridge.NewBridge(e.cfg.Bridge, nil)
	resolver := steps.NewResolver(b, store)
	orch := pipeline.NewOrchestrator(e.repos.Jobs, e.repos.Checkpoints, resolver, nil)
	driver := pipeline.NewBatchDriver(orch, e.repos.Jobs, registry, e.cfg.Batch)
	return driver, orch, b.Shutdown, nil
}

func parseMeta(pairs []string) (map[string]string, error) {
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, found := strings.Cut(pair, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", pair)
		}
		meta[k] = v
	}
	return meta, nil
}

func newJobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "inspect jobs",
	}

	var status, kind string
	var page, pageSize int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closer, err := openEnv()
			if err != nil {
				return err
			}
			defer closer()
			list, total, err := e.repos.Jobs.List(cmd.Context(),
				&repo.JobQuery{Status: status, Kind: kind, Page: page, PageSize: pageSize})
			if err != nil {
				return err
			}
			fmt.Printf("%-36s  %-16s  %-10s  %s\n", "JOB", "KIND", "STATUS", "UPDATED")
			for _, job := range list {
				fmt.Printf("%-36s  %-16s  %-10s  %s\n",
					job.JobId, job.Kind, job.Status, job.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("total: %d\n", total)
			return nil
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "filter by status")
	listCmd.Flags().StringVar(&kind, "kind", "", "filter by pipeline kind")
	listCmd.Flags().IntVar(&page, "page", 1, "page number")
	listCmd.Flags().IntVar(&pageSize, "page-size", 20, "page size")

	showCmd := &cobra.Command{
		Use:   "show <jobId>",
		Short: "show one job with its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closer, err := openEnv()
			if err != nil {
				return err
			}
			defer closer()
			job, err := e.repos.Jobs.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("job:     %s\nkind:    %s\nstatus:  %s\n", job.JobId, job.Kind, job.Status)
			if job.ErrorMessage != "" {
				fmt.Printf("error:   %s\n", job.ErrorMessage)
			}
			for k, v := range job.MetadataMap() {
				fmt.Printf("meta:    %s=%s\n", k, v)
			}
			cps, err := e.repos.Checkpoints.ListForJob(cmd.Context(), job.JobId)
			if err != nil {
				return err
			}
			for _, cp := range cps {
				fmt.Printf("step:    %-20s %s  %s\n",
					cp.StepName, cp.CompletedAt.Format("2006-01-02 15:04:05"), cp.OutputRef)
			}
			return nil
		},
	}

	jobsCmd.AddCommand(listCmd, showCmd)
	return jobsCmd
}

func newRunCmd() *cobra.Command {
	var meta []string
	cmd := &cobra.Command{
		Use:   "run <kind>",
		Short: "submit a job and run it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}
			e, closer, err := openEnv()
			if err != nil {
				return err
			}
			defer closer()
			driver, _, stop, err := newDriver(e)
			if err != nil {
				return err
			}
			defer stop()

			job, err := driver.Submit(cmd.Context(), args[0], metadata)
			if err != nil {
				return err
			}
			fmt.Printf("job %s submitted\n", job.JobId)
			if err := driver.RunJobs(cmd.Context(), []string{job.JobId}); err != nil {
				return err
			}
			final, err := e.repos.Jobs.Get(cmd.Context(), job.JobId)
			if err != nil {
				return err
			}
			fmt.Printf("job %s finished: %s\n", final.JobId, final.Status)
			if final.ErrorMessage != "" {
				fmt.Printf("error: %s\n", final.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "job metadata, repeatable key=value")
	return cmd
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <jobId>",
		Short: "resume an interrupted job from its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closer, err := openEnv()
			if err != nil {
				return err
			}
			defer closer()
			driver, _, stop, err := newDriver(e)
			if err != nil {
				return err
			}
			defer stop()
			return driver.RunJobs(cmd.Context(), []string{args[0]})
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <jobId>",
		Short: "cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closer, err := openEnv()
			if err != nil {
				return err
			}
			defer closer()
			return e.repos.Jobs.UpdateStatus(cmd.Context(), args[0], model.JobStatusCancelled, "")
		},
	}
}

func newInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <jobId> <stepName>",
		Short: "drop the checkpoints from a step onward so the next run redoes them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closer, err := openEnv()
			if err != nil {
				return err
			}
			defer closer()
			_, orch, stop, err := newDriver(e)
			if err != nil {
				return err
			}
			defer stop()
			job, err := e.repos.Jobs.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			registry, err := config.ProvideRegistry(e.cfg)
			if err != nil {
				return err
			}
			pl, err := registry.Get(job.Kind)
			if err != nil {
				return err
			}
			return orch.ForceRegenerate(cmd.Context(), args[0], args[1], pl)
		},
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "conf.d/config.toml", "config file path")
	rootCmd.AddCommand(version.VersionCmd)
	rootCmd.AddCommand(newJobsCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newInvalidateCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
