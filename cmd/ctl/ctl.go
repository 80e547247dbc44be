// Package ctl implements the client commands that talk to a running
// lullaby controller: wake, sleep, status and history.
package ctl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"lullaby/internal/liveness"
	"lullaby/internal/rpc"
	"lullaby/internal/store"
	"lullaby/pkg/config"
)

func dial(configPath string) (*config.Config, *rpc.Client, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(config.RoleClient); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	client, err := rpc.NewClient(cfg.Controller.RPCSocket)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to controller: %w\nIs 'lullaby controller' running?", err)
	}
	return cfg, client, nil
}

// Wake asks the controller to send a magic packet.
func Wake(configPath string) error {
	_, client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Wake(); err != nil {
		return fmt.Errorf("wake: %w", err)
	}
	fmt.Println("ok")
	return nil
}

// Sleep asks the controller to send a sleep command.
func Sleep(configPath string) error {
	_, client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Sleep(); err != nil {
		return fmt.Errorf("sleep: %w", err)
	}
	fmt.Println("ok")
	return nil
}

// Status prints the controller's current view of the target. With watch
// set it follows the HTTP status stream until interrupted.
func Status(configPath string, watch bool) error {
	cfg, client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	p := newPrinter(os.Stdout)
	p.snapshot(st)
	if !watch {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	url := baseURL(cfg.Controller.HTTPListen) + "/api/status"
	if err := follow(ctx, url, p.update); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// History prints up to limit journaled transitions, newest first.
func History(configPath string, limit int) error {
	_, client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	records, err := client.History(limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No transitions recorded yet.")
		return nil
	}
	displayHistoryTable(os.Stdout, records)
	return nil
}

// baseURL turns a listen address into a URL reachable from this host.
func baseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// follow reads the server-sent-events stream at url and hands every
// status-update value to fn. It returns when the stream ends.
func follow(ctx context.Context, url string, fn func(liveness.Status)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("opening status stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opening status stream: %s", resp.Status)
	}
	return readEvents(resp.Body, fn)
}

// readEvents parses SSE frames. Comment lines are keepalives and are
// skipped, as are events other than status-update.
func readEvents(r io.Reader, fn func(liveness.Status)) error {
	scanner := bufio.NewScanner(r)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if event == "status-update" {
				fn(liveness.Status(strings.TrimSpace(strings.TrimPrefix(line, "data:"))))
			}
		}
	}
	return scanner.Err()
}

// printer writes coloured output on a terminal and plain lines otherwise.
type printer struct {
	w   io.Writer
	tty bool
}

func newPrinter(f *os.File) *printer {
	return &printer{w: f, tty: term.IsTerminal(int(f.Fd()))}
}

func (p *printer) paint(st liveness.Status) string {
	if !p.tty {
		return string(st)
	}
	switch st {
	case liveness.StatusAwake:
		return color.New(color.FgGreen, color.Bold).Sprint(st)
	case liveness.StatusSleeping:
		return color.New(color.FgBlue, color.Bold).Sprint(st)
	default:
		return color.New(color.FgYellow).Sprint(st)
	}
}

func (p *printer) snapshot(st rpc.StatusReply) {
	if !p.tty {
		fmt.Fprintln(p.w, st.Status)
		return
	}
	fmt.Fprintf(p.w, "  Status:      %s\n", p.paint(st.Status))
	if !st.ChangedAt.IsZero() {
		fmt.Fprintf(p.w, "  Since:       %s\n", st.ChangedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if !st.LastBeacon.IsZero() {
		fmt.Fprintf(p.w, "  Last beacon: %s ago\n", time.Since(st.LastBeacon).Round(time.Second))
	}
}

func (p *printer) update(st liveness.Status) {
	if !p.tty {
		fmt.Fprintln(p.w, st)
		return
	}
	fmt.Fprintf(p.w, "  %s  %s\n", time.Now().Format("15:04:05"), p.paint(st))
}

func displayHistoryTable(w io.Writer, records []store.Record) {
	fmt.Fprintf(w, "  %-20s %-10s %-10s %-8s\n", "Time", "From", "To", "Reason")
	fmt.Fprintf(w, "  %s %s %s %s\n",
		strings.Repeat("─", 20),
		strings.Repeat("─", 10),
		strings.Repeat("─", 10),
		strings.Repeat("─", 8))

	for _, r := range records {
		fmt.Fprintf(w, "  %-20s %-10s %-10s %-8s\n",
			r.At.Local().Format("2006-01-02 15:04:05"),
			r.From,
			r.To,
			r.Reason,
		)
	}
}
