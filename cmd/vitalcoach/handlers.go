package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/turn"
	"github.com/haasonsaas/vitalcoach/pkg/models"
)

func runUsersCreate(ctx context.Context, username, displayName string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if displayName == "" {
		displayName = username
	}
	u, err := a.store.CreateUser(ctx, username, displayName)
	if err != nil {
		return err
	}
	fmt.Printf("created user %s (id %d)\n", u.Username, u.ID)
	return nil
}

func runUsersList(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("no users")
		return nil
	}
	for _, u := range users {
		fmt.Printf("%-6d %-20s %s\n", u.ID, u.Username, u.DisplayName)
	}
	return nil
}

func runKeySet(ctx context.Context, username, provider string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.box == nil {
		return fmt.Errorf("VITALCOACH_MASTER_KEY is not set")
	}
	u, err := a.userByName(ctx, username)
	if err != nil {
		return err
	}

	fmt.Fprint(os.Stderr, "Paste API key: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read key: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return fmt.Errorf("empty API key")
	}

	sealed, err := a.box.Seal(key)
	if err != nil {
		return err
	}
	st, err := a.store.GetSettings(ctx, u.ID)
	if err != nil {
		return err
	}
	st.EncryptedAPIKey = sealed
	st.ProviderID = provider
	if err := a.store.SaveSettings(ctx, st); err != nil {
		return err
	}
	fmt.Printf("stored %s key for %s\n", provider, username)
	return nil
}

func runChat(ctx context.Context, username, message, verbosity, specialist string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.userByName(ctx, username)
	if err != nil {
		return err
	}

	send := func(text string) error {
		events := a.orch.Run(ctx, &turn.Request{
			User:             u,
			Message:          text,
			Verbosity:        verbosity,
			ForcedSpecialist: specialist,
		})
		for ev := range events {
			switch ev.Type {
			case models.StreamChunk:
				fmt.Print(ev.Text)
			case models.StreamError:
				fmt.Fprintf(os.Stderr, "\nerror: %s\n", ev.Text)
			case models.StreamDone:
				fmt.Printf("\n[%s/%s]\n", ev.Category, ev.Specialist)
			}
		}
		return nil
	}

	if message != "" {
		return send(message)
	}

	fmt.Fprintln(os.Stderr, "Interactive chat; empty line or Ctrl-D to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		if err := send(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func runAnalyze(ctx context.Context, username, runType, date string, force bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.userByName(ctx, username)
	if err != nil {
		return err
	}
	st, err := a.store.GetSettings(ctx, u.ID)
	if err != nil {
		return err
	}

	var target time.Time
	if date != "" {
		target, err = time.Parse("2006-01-02", date)
		if err != nil {
			return fmt.Errorf("bad --date %q, want YYYY-MM-DD", date)
		}
	}

	run, err := a.engine.Run(ctx, u, st, runType, target, "manual", force)
	if err != nil {
		return err
	}
	fmt.Printf("run %d: %s %s window %s .. %s\n", run.ID, run.RunType, run.Status,
		run.PeriodStart.Format("2006-01-02"), run.PeriodEnd.Format("2006-01-02"))
	if len(run.RiskFlags) > 0 {
		fmt.Printf("risk flags: %s\n", strings.Join(run.RiskFlags, ", "))
	}
	if len(run.MissingData) > 0 {
		fmt.Printf("missing data: %s\n", strings.Join(run.MissingData, ", "))
	}
	if run.SummaryMarkdown != "" {
		fmt.Println("\n" + run.SummaryMarkdown)
	}
	return nil
}

func runProposalsList(ctx context.Context, username string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.userByName(ctx, username)
	if err != nil {
		return err
	}
	pending, err := a.store.PendingProposals(ctx, u.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("no pending proposals")
		return nil
	}
	for _, p := range pending {
		merged := ""
		if p.MergedCount > 0 {
			merged = fmt.Sprintf(" (+%d merged)", p.MergedCount)
		}
		fmt.Printf("%-6d %-18s %s%s\n", p.ID, p.ProposalKind, p.Title, merged)
	}
	return nil
}

func runProposalAction(ctx context.Context, verb, username, idArg, note string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.userByName(ctx, username)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("bad proposal id %q", idArg)
	}

	var p *store.AnalysisProposal
	switch verb {
	case "approve":
		p, err = a.reviewer.Approve(ctx, u.ID, id, nil, note)
	case "reject":
		p, err = a.reviewer.Reject(ctx, u.ID, id, nil, note)
	case "apply":
		p, err = a.reviewer.Apply(ctx, u.ID, id, nil, note)
	case "undo":
		p, err = a.reviewer.Undo(ctx, u.ID, id, nil, note)
	default:
		return fmt.Errorf("unknown action %q", verb)
	}
	if err != nil {
		return err
	}
	fmt.Printf("proposal %d is now %s\n", p.ID, p.Status)
	return nil
}

func runServe(ctx context.Context, metricsAddr string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.dispatcher.Start(); err != nil {
		return err
	}
	defer a.dispatcher.Stop()

	// Sweep missed windows once at startup; the cron handles the rest.
	go a.dispatcher.CatchUp(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error(ctx, "metrics server failed", "error", err)
		}
	}()
	a.log.Info(ctx, "serving", "metrics_addr", metricsAddr, "db", flagDB)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
