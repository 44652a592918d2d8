package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/CatalogDrop/internal/app"
	"github.com/dharsanguruparan/CatalogDrop/internal/config"
	"github.com/dharsanguruparan/CatalogDrop/internal/database"
	"github.com/dharsanguruparan/CatalogDrop/internal/ingest"
	"github.com/dharsanguruparan/CatalogDrop/internal/logging"
	"github.com/dharsanguruparan/CatalogDrop/internal/model"
	"github.com/dharsanguruparan/CatalogDrop/internal/processing"
	"github.com/dharsanguruparan/CatalogDrop/internal/queue"
)

var errNoDispatch = errors.New("command does not schedule imports")

// session holds what the import commands share for one invocation.
type session struct {
	cfg    *config.Config
	log    *zap.Logger
	stores *app.Stores
	client *asynq.Client
}

func openSession(ctx context.Context, memory bool) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	opts := cfg.Log
	opts.Stderr = true
	log, err := logging.New(opts)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: log}
	if memory {
		s.stores = app.Memory()
		return s, nil
	}
	if s.stores, err = app.Open(ctx, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) Close() {
	if s.client != nil {
		s.client.Close()
	}
	s.stores.Close()
	_ = s.log.Sync()
}

// queue returns a dispatcher onto the worker queue, connecting on first use.
func (s *session) queue() ingest.Dispatcher {
	if s.client == nil {
		s.client = asynq.NewClient(app.RedisOpt(s.cfg))
	}
	return queue.NewDispatcher(s.client, s.cfg.QueueName)
}

func (s *session) readOnlyGateway() *ingest.Gateway {
	return s.stores.Gateway(s.cfg, ingest.DispatcherFunc(func(context.Context, string) error {
		return errNoDispatch
	}), s.log, nil)
}

func newIngestCmd() *cobra.Command {
	var memory, inline bool
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Upload CSV files and schedule their imports",
		Long: `ingest stores each file and queues an import for the worker. With --inline the
imports run in this process against the configured database; --memory also keeps
all state in memory, which is useful for checking a file before uploading it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, memory)
			if err != nil {
				return err
			}
			defer s.Close()

			var (
				pool     *processing.Processor
				dispatch ingest.Dispatcher
			)
			if memory || inline {
				pool = processing.New(s.stores.Runner(s.cfg, s.log, nil), s.stores.Files, s.cfg.ProcessingPool, s.log.Named("processing"))
				pool.Start(ctx)
				// A CLI batch waits for buffer space rather than failing files.
				dispatch = ingest.DispatcherFunc(pool.Enqueue)
			} else {
				dispatch = s.queue()
			}
			gw := s.stores.Gateway(s.cfg, dispatch, s.log, nil)

			ids := make([]string, len(args))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(s.cfg.ProcessingPool)
			for i, path := range args {
				g.Go(func() error {
					f, err := intakeFile(gctx, gw, path)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					ids[i] = f.ID
					return nil
				})
			}
			err = g.Wait()
			if pool != nil {
				pool.Close()
			}
			if err != nil {
				return err
			}
			return printStatuses(ctx, cmd.OutOrStdout(), gw, ids)
		},
	}
	cmd.Flags().BoolVar(&inline, "inline", false, "Run imports in this process instead of the worker queue")
	cmd.Flags().BoolVar(&memory, "memory", false, "Use in-memory stores (implies --inline)")
	return cmd
}

func intakeFile(ctx context.Context, gw *ingest.Gateway, path string) (*model.UploadedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	name := filepath.Base(path)
	return gw.Intake(ctx, ingest.Upload{
		Name:        name,
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		Body:        f,
		Metadata:    map[string]string{"source": "cli"},
	})
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status ID...",
		Short: "Show the import status of stored files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()
			return printStatuses(cmd.Context(), cmd.OutOrStdout(), s.readOnlyGateway(), args)
		},
	}
}

func newListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent uploads, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()
			views, err := s.readOnlyGateway().Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), views)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of uploads to show")
	return cmd
}

func newReprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess ID",
		Short: "Queue a new import run for a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()
			gw := s.stores.Gateway(s.cfg, s.queue(), s.log, nil)
			if err := gw.Reprocess(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printStatuses(cmd.Context(), cmd.OutOrStdout(), gw, args)
		},
	}
}

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process ID",
		Short: "Run the import for a stored file synchronously, bypassing the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()
			if _, err := s.stores.Runner(s.cfg, s.log, nil).Run(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printStatuses(cmd.Context(), cmd.OutOrStdout(), s.readOnlyGateway(), args)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := database.Connect(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.EnsureSchema(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func printStatuses(ctx context.Context, w io.Writer, gw *ingest.Gateway, ids []string) error {
	views := make([]*ingest.StatusView, 0, len(ids))
	for _, id := range ids {
		v, err := gw.Status(ctx, id)
		if err != nil {
			return err
		}
		views = append(views, v)
	}
	return printJSON(w, views)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
