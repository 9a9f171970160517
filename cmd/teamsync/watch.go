package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/model"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/reconcile"
)

func init() {
	addTargetFlags(watchCmd)
	watchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the workspace and print messages, notifications and unread counts",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	kind, id, err := target(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := teamsync.NewSession(cfg, teamsync.WithLogger(teamsync.NewZapLogger(log)))
	p := &printer{seen: map[string]struct{}{}}
	s.OnChange(p.change)
	s.OnNotification(func(n teamsync.Notification) {
		fmt.Printf("🔔 %s: %s\n", n.Title, n.Body)
	})
	s.OnToast(func(t teamsync.Toast) {
		fmt.Fprintf(os.Stderr, "⚠️  %s\n", t.Message)
	})
	s.OnAuthFailure(func(err error) {
		fmt.Fprintln(os.Stderr, "session rejected, stored credentials cleared; sign in again")
		stop()
	})

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		srv := serveMetrics(addr, s.Metrics(), log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = s.Stop() }()

	st := s.State()
	fmt.Printf("Connected to %s as %s: %d channels, %d conversations, %s unread\n",
		st.OrganisationID, st.Profile.Name(), len(st.Channels), len(st.Conversations),
		humanize.Comma(int64(st.UnreadTotal())))

	if id != "" {
		if err := s.Open(ctx, kind, id); err != nil {
			return err
		}
	}
	if err := s.Focus(ctx); err != nil {
		log.Warn("presence not announced", zap.Error(err))
	}

	<-ctx.Done()
	blurCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Blur(blurCtx)
	return nil
}

func serveMetrics(addr string, m *teamsync.Metrics, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}

// printer writes each message of the open entity once.
type printer struct {
	mu     sync.Mutex
	active string
	unread int
	seen   map[string]struct{}
}

func (p *printer) change(st reconcile.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if active := st.ActiveID(); active != p.active {
		p.active = active
		p.seen = map[string]struct{}{}
		if st.Selected != nil {
			fmt.Printf("── %s %s ──\n", st.Selected.Kind, entityTitle(*st.Selected))
		}
	}
	for _, m := range st.Messages {
		if _, ok := p.seen[m.ID]; ok {
			continue
		}
		p.seen[m.ID] = struct{}{}
		fmt.Println(formatMessage(m))
	}
	if n := st.UnreadTotal(); n != p.unread {
		p.unread = n
		fmt.Printf("   %s unread\n", humanize.Comma(int64(n)))
	}
}

func entityTitle(e model.Entity) string {
	if e.IsChannel() {
		return "#" + e.Name
	}
	return e.Name
}

func formatMessage(m model.Message) string {
	when := "just now"
	if !m.CreatedAt.IsZero() {
		when = humanize.Time(m.CreatedAt)
	}
	line := fmt.Sprintf("[%s] %s: %s", when, m.Sender.Name(), teamsync.Preview(m.Content, 0))
	if m.ThreadRepliesCount > 0 {
		line += fmt.Sprintf(" (%s)", english.Plural(m.ThreadRepliesCount, "reply", "replies"))
	}
	return line
}
