package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/vantagesearch/client/internal/config"
	"github.com/vantagesearch/client/internal/export"
	"github.com/vantagesearch/client/internal/handlers"
	"github.com/vantagesearch/client/internal/httpserver"
	"github.com/vantagesearch/client/internal/logging"
	"github.com/vantagesearch/client/internal/middleware"
	"github.com/vantagesearch/client/internal/models"
	"github.com/vantagesearch/client/internal/playback"
)

const usage = "expected command: login, register, logout, whoami, videos, upload, delete, retry, search, play, stats, url, export, exports, watch, or migrate"

var errNotSignedIn = errors.New("not signed in: run `vantage login` first")

// Command output goes to stdout, prompts read from stdin, logs go to stderr.
var (
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
	stderr io.Writer = os.Stderr
)

type command func(ctx context.Context, d *dependencies, args []string) error

var commands = map[string]command{
	"login":    runLogin,
	"register": runRegister,
	"logout":   runLogout,
	"whoami":   runWhoami,
	"videos":   runVideos,
	"upload":   runUpload,
	"delete":   runDelete,
	"retry":    runRetry,
	"search":   runSearch,
	"play":     runPlay,
	"stats":    runStats,
	"url":      runURL,
	"export":   runExport,
	"exports":  runExports,
	"watch":    runWatch,
}

// Run bootstraps the Vantage Search client and dispatches one command.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(stderr, cfg.LogLevel)
	slog.SetDefault(logger)
	ctx = logging.WithLogger(ctx, logger)

	if args[0] == "migrate" {
		return runMigrations(ctx, cfg, args[1:])
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}

	deps, cleanup, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(context.Background()); err != nil {
			logger.Warn("cleanup failed", slog.Any("error", err))
		}
	}()

	return cmd(ctx, deps, args[1:])
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func requireSession(ctx context.Context, d *dependencies) (models.Session, error) {
	session, ok, err := d.sessions.Restore(ctx)
	if err != nil {
		return models.Session{}, err
	}
	if !ok {
		return models.Session{}, errNotSignedIn
	}
	return session, nil
}

// readPassword prefers the flag, then VANTAGE_PASSWORD, then one line of stdin.
func readPassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("VANTAGE_PASSWORD"); env != "" {
		return env, nil
	}

	fmt.Fprint(stderr, "Password: ")
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogin(ctx context.Context, d *dependencies, args []string) error {
	fs := newFlagSet("login")
	password := fs.String("password", "", "account password (read from VANTAGE_PASSWORD or stdin when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: vantage login [--password PASSWORD] EMAIL")
	}

	pw, err := readPassword(*password)
	if err != nil {
		return err
	}

	session, err := d.sessions.Login(ctx, fs.Arg(0), pw)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintf(stdout, "signed in as %s\n", session.DisplayName)
	return nil
}

func runRegister(ctx context.Context, d *dependencies, args []string) error {
	fs := newFlagSet("register")
	password := fs.String("password", "", "account password (read from VANTAGE_PASSWORD or stdin when empty)")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: vantage register [--name NAME] [--password PASSWORD] EMAIL")
	}

	pw, err := readPassword(*password)
	if err != nil {
		return err
	}

	email := fs.Arg(0)
	if err := d.sessions.Register(ctx, email, pw, *name); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	session, err := d.sessions.Login(ctx, email, pw)
	if err != nil {
		return fmt.Errorf("account created but login failed: %w", err)
	}
	fmt.Fprintf(stdout, "account created, signed in as %s\n", session.DisplayName)
	return nil
}

func runLogout(ctx context.Context, d *dependencies, _ []string) error {
	if _, _, err := d.sessions.Restore(ctx); err != nil {
		d.logger.Warn("restore before logout failed", slog.Any("error", err))
	}
	d.sessions.Logout(ctx)
	fmt.Fprintln(stdout, "signed out")
	return nil
}

func runWhoami(ctx context.Context, d *dependencies, _ []string) error {
	session, err := requireSession(ctx, d)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s (user %s, signed in %s)\n", session.DisplayName, session.UserID, session.IssuedAt.Format(time.RFC3339))
	return nil
}

func runVideos(ctx context.Context, d *dependencies, _ []string) error {
	if _, err := requireSession(ctx, d); err != nil {
		return err
	}
	if err := d.library.Load(ctx); err != nil {
		return fmt.Errorf("list videos: %w", err)
	}

	snap := d.library.List()
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tSTATUS\tSIZE\tCREATED")
	for _, v := range snap.Videos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", v.ID, v.Filename, v.Status, v.FileSize, v.CreatedAt.Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d videos, %d completed, %d processing\n", snap.Stats.Total, snap.Stats.Completed, snap.Stats.Processing)
	return nil
}

func runUpload(ctx context.Context, d *dependencies, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: vantage upload FILE...")
	}
	if _, err := requireSession(ctx, d); err != nil {
		return err
	}

	var failed int
	for _, path := range args {
		if err := uploadFile(ctx, d, path); err != nil {
			failed++
			fmt.Fprintf(stdout, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(stdout, "%s: uploaded as %s\n", path, d.library.List().Upload.VideoID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(args))
	}
	return nil
}

func uploadFile(ctx context.Context, d *dependencies, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.library.Upload(ctx, path, f)
}

func runDelete(ctx context.Context, d *dependencies, args []string) error {
	return videoAction(ctx, d, args, "delete", d.library.Delete)
}

func runRetry(ctx context.Context, d *dependencies, args []string) error {
	return videoAction(ctx, d, args, "retry", d.library.Retry)
}

func videoAction(ctx context.Context, d *dependencies, args []string, name string, action func(context.Context, string) error) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: vantage %s VIDEO_ID...", name)
	}
	if _, err := requireSession(ctx, d); err != nil {
		return err
	}
	for _, id := range args {
		if err := action(ctx, id); err != nil {
			return fmt.Errorf("%s %s: %w", name, id, err)
		}
		fmt.Fprintf(stdout, "%s %s: ok\n", name, id)
	}
	return nil
}

func runSearch(ctx context.Context, d *dependencies, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return errors.New("usage: vantage search QUERY")
	}
	if _, err := requireSession(ctx, d); err != nil {
		return err
	}

	results, err := d.search.Search(ctx, query)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(stdout, "no matching moments")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tVIDEO\tCONFIDENCE\tAT\tWINDOW\tTAG\tMATCHES")
	for i, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%d%% (%s)\t%s\t%s\t%s\t%d\n",
			i+1, r.VideoID, r.Confidence, r.Band(), formatSeconds(r.Timestamp), formatWindow(r), r.PrimaryTag(), r.MatchCount)
	}
	return w.Flush()
}

func runPlay(ctx context.Context, d *dependencies, args []string) error {
	fs := newFlagSet("play")
	index := fs.Int("n", 1, "result number to play")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return errors.New("usage: vantage play [-n N] QUERY")
	}
	if _, err := requireSession(ctx, d); err != nil {
		return err
	}

	results, err := d.search.Search(ctx, query)
	if err != nil {
		return err
	}
	if *index < 1 || *index > len(results) {
		return fmt.Errorf("result %d not found (%d results)", *index, len(results))
	}
	result := results[*index-1]

	element := &planElement{w: stdout}
	player := playback.NewController(result, d.broker, element, d.logger)
	if err := player.Play(ctx); err != nil {
		return err
	}
	if result.EndTime != nil && !result.IsClip() {
		fmt.Fprintf(stdout, "stop at %s\n", formatSeconds(*result.EndTime))
		player.OnTimeUpdate(*result.EndTime)
	}
	return nil
}

// planElement prints what a media element would be told to do.
type planElement struct {
	w io.Writer
}

func (p *planElement) SetSource(url string) error {
	_, err := fmt.Fprintf(p.w, "source %s\n", url)
	return err
}

func (p *planElement) Seek(position float64) { fmt.Fprintf(p.w, "seek to %s\n", formatSeconds(position)) }

func (p *planElement) Play() error {
	_, err := fmt.Fprintln(p.w, "play")
	return err
}

func (p *planElement) Pause() { fmt.Fprintln(p.w, "pause") }

func runStats(ctx context.Context, d *dependencies, _ []string) error {
	if _, err := requireSession(ctx, d); err != nil {
		return err
	}
	stats, err := d.stats.Load(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	fmt.Fprintf(stdout, "frames analyzed: %d\n", stats.TotalFramesAnalyzed)
	return nil
}

func runURL(ctx context.Context, d *dependencies, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: vantage url VIDEO_ID")
	}
	if _, err := requireSession(ctx, d); err != nil {
		return err
	}
	location, err := d.broker.VideoURL(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, location)
	return nil
}

func runExport(ctx context.Context, d *dependencies, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: vantage export VIDEO_ID...")
	}
	if _, err := requireSession(ctx, d); err != nil {
		return err
	}

	var (
		mu     sync.Mutex
		failed int
	)
	exporter, err := d.newExporter(ctx, func(_ context.Context, result export.Result) error {
		mu.Lock()
		defer mu.Unlock()
		if result.Err != nil {
			failed++
			_, err := fmt.Fprintf(stdout, "%s: %v\n", result.Job.VideoID, result.Err)
			return err
		}
		_, err := fmt.Fprintf(stdout, "%s: %s (%d bytes)\n", result.Job.VideoID, result.Location, result.Size)
		return err
	})
	if err != nil {
		return err
	}

	for _, id := range args {
		if err := exporter.Enqueue(ctx, export.Job{VideoID: id}); err != nil {
			_ = exporter.Close(context.Background())
			return err
		}
	}
	if err := exporter.Close(ctx); err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	if failed > 0 {
		return fmt.Errorf("%d of %d exports failed", failed, len(args))
	}
	return nil
}

func runExports(ctx context.Context, d *dependencies, args []string) error {
	if d.exports == nil {
		return errors.New("export history requires the sqlite or postgres state backend")
	}
	limit := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		limit = n
	}
	records, err := d.exports.List(ctx, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VIDEO\tSTATUS\tLOCATION\tSIZE\tUPDATED")
	for _, r := range records {
		where := r.Location
		if r.Status == models.ExportStatusFailed {
			where = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.VideoID, r.Status, where, r.Size, r.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runWatch(ctx context.Context, d *dependencies, args []string) error {
	fs := newFlagSet("watch")
	port := fs.Int("port", d.cfg.ListenPort, "companion API port on 127.0.0.1")
	if err := fs.Parse(args); err != nil {
		return err
	}
	session, err := requireSession(ctx, d)
	if err != nil {
		return err
	}

	if err := d.library.Start(ctx); err != nil {
		return fmt.Errorf("start library poller: %w", err)
	}
	if err := d.stats.Start(ctx); err != nil {
		return fmt.Errorf("start stats poller: %w", err)
	}

	exporter, err := d.newExporter(ctx, nil)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, d.routes(exporter))
	srv := httpserver.New(*port, middleware.RequestLogger(d.logger)(mux))

	d.logger.Info("starting companion api", slog.String("addr", srv.Addr()), slog.String("userId", session.UserID))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	_, sessionDone, _ := d.sessions.Watch()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info("context canceled, shutting down")
	case sig := <-signalCh:
		d.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-sessionDone:
		d.logger.Warn("session ended, shutting down")
		runErr = errNotSignedIn
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	d.library.Stop()
	d.stats.Stop()
	return errors.Join(runErr, srv.Shutdown(shutdownCtx), exporter.Close(shutdownCtx))
}

func formatSeconds(v float64) string {
	total := int(v)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func formatWindow(r models.SearchResult) string {
	if r.StartTime == nil || r.EndTime == nil {
		return "-"
	}
	return formatSeconds(*r.StartTime) + "-" + formatSeconds(*r.EndTime)
}
