// Command indexctl inspects and maintains a comment index offline.
//
// Usage:
//
//	indexctl [-config file] stats
//	indexctl [-config file] search [-boolean] [-limit n] words...
//	indexctl [-config file] merge
//	indexctl [-config file] rebuild
//	indexctl [-config file] backup [-prefix p]
//
// stats, search and backup open the index read-only and can run next to a
// live search service. merge and rebuild need the writer lock.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/commentindex"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/directory"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/rebuild"
	"github.com/Hikikomori041/m2-projetweb/pkg/config"
	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
	"github.com/Hikikomori041/m2-projetweb/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "stats":
		err = runStats(ctx, cfg)
	case "search":
		err = runSearch(ctx, cfg, args)
	case "merge":
		err = runMerge(ctx, cfg)
	case "rebuild":
		err = runRebuild(ctx, cfg)
	case "backup":
		err = runBackup(ctx, cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: indexctl [-config file] stats|search|merge|rebuild|backup [args]")
	flag.PrintDefaults()
}

func withService(ctx context.Context, cfg *config.Config, readOnly bool, fn func(*commentindex.Service) error) error {
	var opts []commentindex.Option
	if readOnly {
		opts = append(opts, commentindex.ReadOnly())
	}
	svc, err := commentindex.Open(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())
	return fn(svc)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStats(ctx context.Context, cfg *config.Config) error {
	return withService(ctx, cfg, true, func(svc *commentindex.Service) error {
		stats, err := svc.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	})
}

func runSearch(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	boolean := fs.Bool("boolean", false, "parse AND/OR/NOT and parentheses")
	limit := fs.Int("limit", 0, "maximum number of hits (0 for the configured default)")
	fs.Parse(args)
	text := strings.Join(fs.Args(), " ")

	return withService(ctx, cfg, true, func(svc *commentindex.Service) error {
		var (
			res *commentindex.SearchResult
			err error
		)
		if *boolean {
			res, err = svc.SearchBoolean(ctx, text, *limit)
		} else {
			res, err = svc.SearchHits(ctx, text, *limit)
		}
		if err != nil {
			return err
		}
		fmt.Printf("generation %d, %d hits\n", res.Generation, len(res.Hits))
		for i, h := range res.Hits {
			fmt.Printf("%3d  %-12s %8.4f  %s\n", i+1, h.DocID, h.Score, h.Comment)
		}
		return nil
	})
}

func runMerge(ctx context.Context, cfg *config.Config) error {
	return withService(ctx, cfg, false, func(svc *commentindex.Service) error {
		gen, err := svc.Merge(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("merged into generation %d\n", gen)
		return nil
	})
}

func runRebuild(ctx context.Context, cfg *config.Config) error {
	pg, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	return withService(ctx, cfg, false, func(svc *commentindex.Service) error {
		res, err := svc.Reindex(ctx, rebuild.NewSource(pg))
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

func runBackup(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	prefix := fs.String("prefix", "", "object prefix in the backup bucket (default backups/<data dir>/<timestamp>)")
	fs.Parse(args)
	if *prefix == "" {
		*prefix = path.Join("backups", path.Base(cfg.Indexer.DataDir), time.Now().UTC().Format("20060102T150405Z"))
	}

	client, err := directory.NewMinioClient(cfg.Minio)
	if err != nil {
		return err
	}
	dst, err := directory.NewMinio(ctx, client, cfg.Minio.Bucket, path.Join(cfg.Minio.Prefix, *prefix))
	if err != nil {
		return err
	}
	defer dst.Close()

	return withService(ctx, cfg, true, func(svc *commentindex.Service) error {
		res, err := svc.Backup(ctx, dst)
		if err != nil {
			return err
		}
		fmt.Printf("generation %d copied to s3://%s/%s (%d segments)\n",
			res.Generation, cfg.Minio.Bucket, path.Join(cfg.Minio.Prefix, *prefix), len(res.Segments))
		return nil
	})
}
