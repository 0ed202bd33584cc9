package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"briefbot/internal/app"
	"briefbot/internal/config"
	"briefbot/pkg/logx"
	"briefbot/pkg/systemd"
)

func main() {
	var (
		cfgPath    string
		exportPath string
		importPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&exportPath, "export", "", "export all tasks to the given file and exit (\"-\" for stdout)")
	flag.StringVar(&importPath, "import", "", "import tasks from the given export file and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if exportPath != "" || importPath != "" {
		if err := runOneShot(ctx, cfgPath, exportPath, importPath); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	systemd.NotifyReady()
	go systemd.RunWatchdog(ctx)

	<-a.Done()
	systemd.NotifyStopping()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)

	if err := a.Err(); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// runOneShot handles -export/-import without starting the daemon.
func runOneShot(ctx context.Context, cfgPath, exportPath, importPath string) error {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	st, err := app.OpenStore(cfg, logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return err
	}
	defer st.Close()

	if importPath != "" {
		blob, err := os.ReadFile(importPath)
		if err != nil {
			return err
		}
		rep, err := st.Import(ctx, blob)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d task(s)\n", len(rep.Imported))
		for _, f := range rep.Failed {
			fmt.Printf("skipped %s: %s\n", f.ID, f.Reason)
		}
		if len(rep.Failed) > 0 {
			return fmt.Errorf("%d record(s) failed to import", len(rep.Failed))
		}
		return nil
	}

	blob, err := st.Export(ctx)
	if err != nil {
		return err
	}
	if exportPath == "-" {
		_, err = os.Stdout.Write(blob)
		return err
	}
	if err := os.WriteFile(exportPath, blob, 0o644); err != nil {
		return err
	}
	fmt.Printf("exported tasks to %s\n", exportPath)
	return nil
}
