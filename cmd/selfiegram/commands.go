package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	apierrors "github.com/maruel/selfiegram/internal/errors"
	"github.com/maruel/selfiegram/internal/models"
	"github.com/maruel/selfiegram/internal/server"
	"github.com/maruel/selfiegram/internal/server/handlers"
	"github.com/maruel/selfiegram/internal/storage"
)

// parseFlags parses a subcommand's flags and checks the positional count.
func parseFlags(fs *flag.FlagSet, args []string, minArgs, maxArgs int) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if n := fs.NArg(); n < minArgs || (maxArgs >= 0 && n > maxArgs) {
		return fmt.Errorf("%s: unexpected arguments: %v", fs.Name(), fs.Args())
	}
	return nil
}

// userError turns a classified error into the sentence shown to the user,
// keeping the detail for debug logs.
func userError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	slog.DebugContext(ctx, "Command failed", "err", err, "code", apierrors.KindOf(err))
	var e *apierrors.Error
	if errors.As(err, &e) {
		return errors.New(apierrors.Message(err))
	}
	return err
}

func cmdAdd(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	title := fs.String("title", "", "Record title")
	imagePath := fs.String("image", "", "Image file to attach")
	ip := fs.String("ip", "", "Geolocate this IP address (requires -geo-db)")
	lat := fs.Float64("lat", 0, "Latitude")
	lon := fs.Float64("lon", 0, "Longitude")
	if err := parseFlags(fs, args, 0, 0); err != nil {
		return err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	r := models.NewRecord(*title)
	switch {
	case set["lat"] || set["lon"]:
		r.Position = &models.Coordinate{Latitude: *lat, Longitude: *lon}
		if err := r.Position.Validate(); err != nil {
			return err
		}
	case *ip != "":
		if a.locator == nil {
			return errors.New("-ip requires a geo database (-geo-db)")
		}
		if c, ok := a.locator.Locate(*ip); ok {
			r.Position = c
		} else {
			slog.WarnContext(ctx, "IP address could not be located", "ip", *ip)
		}
	}
	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			return err
		}
		// Store the image first so a bad file doesn't leave a record behind.
		if err := a.records.Blobs().SetBytes(r.ID.String(), data); err != nil {
			return userError(ctx, err)
		}
	}
	if err := a.records.Save(ctx, r); err != nil {
		if *imagePath != "" {
			_ = a.records.Blobs().Set(r.ID.String(), nil)
		}
		return userError(ctx, err)
	}
	_, err := fmt.Fprintln(a.stdout, r.ID.String())
	return err
}

func cmdList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	if err := parseFlags(fs, args, 0, 0); err != nil {
		return err
	}
	records, err := a.records.List(ctx)
	if err != nil {
		return userError(ctx, err)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCREATED\tIMAGE\tTITLE")
	for _, r := range records {
		img := "-"
		if _, err := os.Stat(a.records.Blobs().Path(r.ID.String())); err == nil {
			img = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Created.Local().Format(time.DateTime), img, r.Title)
	}
	return tw.Flush()
}

func cmdShow(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	if err := parseFlags(fs, args, 1, 1); err != nil {
		return err
	}
	id, err := handlers.ParseID(fs.Arg(0))
	if err != nil {
		return userError(ctx, err)
	}
	r, ok := a.records.Load(ctx, id)
	if !ok {
		return userError(ctx, apierrors.NotFound("record"))
	}
	_, _ = fmt.Fprintf(a.stdout, "id:       %s\ncreated:  %s\ntitle:    %s\n", r.ID, r.Created.Format(time.RFC3339), r.Title)
	if r.Position != nil {
		_, _ = fmt.Fprintf(a.stdout, "position: %.5f, %.5f\n", r.Position.Latitude, r.Position.Longitude)
	}
	if img, ok := a.records.Blobs().Get(id); ok {
		b := img.Bounds()
		_, _ = fmt.Fprintf(a.stdout, "image:    %dx%d %s\n", b.Dx(), b.Dy(), a.records.Blobs().Path(id))
	}
	return nil
}

func cmdRemove(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	if err := parseFlags(fs, args, 1, -1); err != nil {
		return err
	}
	for _, arg := range fs.Args() {
		id, err := handlers.ParseID(arg)
		if err != nil {
			return userError(ctx, err)
		}
		if err := a.records.Delete(ctx, id); err != nil {
			return userError(ctx, err)
		}
	}
	return nil
}

func cmdImage(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("image", flag.ContinueOnError)
	setPath := fs.String("set", "", "Replace the image with this file")
	clearImage := fs.Bool("clear", false, "Remove the image")
	out := fs.String("o", "", "Write the stored JPEG to this file")
	if err := parseFlags(fs, args, 1, 1); err != nil {
		return err
	}
	id, err := handlers.ParseID(fs.Arg(0))
	if err != nil {
		return userError(ctx, err)
	}
	if !a.records.Exists(id) {
		return userError(ctx, apierrors.NotFound("record"))
	}
	blobs := a.records.Blobs()
	switch {
	case *setPath != "":
		data, err := os.ReadFile(*setPath)
		if err != nil {
			return err
		}
		return userError(ctx, blobs.SetBytes(id, data))
	case *clearImage:
		return userError(ctx, blobs.Set(id, nil))
	case *out != "":
		data, ok := blobs.ReadBytes(id)
		if !ok {
			return userError(ctx, apierrors.NotFound("image"))
		}
		return storage.WriteFileAtomic(*out, data, 0o644)
	default:
		return errors.New("image: one of -set, -clear or -o is required")
	}
}

func cmdSync(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	refresh := fs.Bool("refresh", true, "Download the manifest before the assets")
	showLog := fs.Bool("log", false, "Print past synchronizations instead of synchronizing")
	if err := parseFlags(fs, args, 0, 0); err != nil {
		return err
	}
	if *showLog {
		for _, st := range a.syncLog.All() {
			_, _ = fmt.Fprintf(a.stdout, "%s  %d assets, %d failed, %s\n",
				st.Finished.Local().Format(time.DateTime), st.Total, st.Failed, st.Duration.Round(time.Millisecond))
		}
		return nil
	}
	st := a.syncer.SynchronizeWait(ctx, *refresh)
	_, _ = fmt.Fprintf(a.stdout, "%d assets, %d failed, %s\n", st.Total, st.Failed, st.Duration.Round(time.Millisecond))
	if st.Failed > 0 {
		return fmt.Errorf("%d of %d assets failed to download", st.Failed, st.Total)
	}
	return nil
}

func cmdOverlays(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("overlays", flag.ContinueOnError)
	all := fs.Bool("all", false, "Include overlays whose assets are not cached")
	if err := parseFlags(fs, args, 0, 0); err != nil {
		return err
	}
	entries := a.client.Available()
	if *all {
		entries = a.client.Current()
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ICON\tLEFT\tRIGHT")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Icon, e.LeftAsset, e.RightAsset)
	}
	return tw.Flush()
}

func cmdServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	if err := parseFlags(fs, args, 0, 0); err != nil {
		return err
	}
	cfg := &server.Config{
		Records: a.records,
		Client:  a.client,
		Syncer:  a.syncer,
		SyncLog: a.syncLog,

		TrustProxy: a.cfg.TrustProxy,
	}
	if a.locator != nil {
		cfg.Locator = a.locator
	}
	cfg.Version, _, _, _ = getBuildInfo()

	addr := a.cfg.HTTP
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(cfg),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", "http://"+addr)
		serverErr <- httpServer.ListenAndServe()
	}()
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	if err := parseFlags(fs, args, 0, 0); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Watching records", "dir", a.records.Dir())
	err := a.records.Watch(ctx, func(c storage.Change) {
		title := ""
		if c.Kind == storage.RecordSaved {
			if r, ok := a.records.Load(ctx, c.ID); ok {
				title = r.Title
			}
		}
		_, _ = fmt.Fprintf(a.stdout, "%s\t%s\t%s\t%s\n", time.Now().Format(time.TimeOnly), c.Kind, c.ID, title)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func cmdSchema(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	if err := parseFlags(fs, args, 1, 1); err != nil {
		return err
	}
	data, err := models.Schema(fs.Arg(0))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "%s\n", data)
	return err
}

func cmdHistory(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	n := fs.Int("n", 20, "Maximum number of commits")
	if err := parseFlags(fs, args, 0, 1); err != nil {
		return err
	}
	h := a.records.History()
	if h == nil {
		return errors.New("history is disabled; enable it with -history or history: true in config.yaml")
	}
	id := ""
	if fs.NArg() == 1 {
		var err error
		if id, err = handlers.ParseID(fs.Arg(0)); err != nil {
			return userError(ctx, err)
		}
	}
	commits, err := h.Log(ctx, id, *n)
	if err != nil {
		return err
	}
	for _, c := range commits {
		_, _ = fmt.Fprintf(a.stdout, "%s  %s  %s\n", c.Hash[:10], c.Timestamp.Local().Format(time.DateTime), c.Message)
	}
	return nil
}
