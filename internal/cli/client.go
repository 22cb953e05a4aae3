package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/cyberinferno/rediminute/client"
	"github.com/cyberinferno/rediminute/config"
)

// RunClient connects to a server and relays lines read from in until in is
// exhausted, the user types exit, quit or q, the server closes the
// connection, or ctx is cancelled. Prompts and responses go to out.
func RunClient(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("rediminute-cli", flag.ContinueOnError)
	fs.SetOutput(out)

	host := fs.String("host", config.DefaultHost, "Server host")
	port := fs.IntP("port", "p", config.DefaultPort, "Server port")
	timeout := fs.Int("timeout", 30, "Seconds to wait for each response (0 = no limit)")
	noColor := fs.Bool("no-color", false, "Disable colored output")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printClientUsage(out, fs) }

	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printClientUsage(out, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(out, "rediminute-cli %s\n", version)
		return nil
	}
	if *timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	p := newPalette(*noColor)
	addr := net.JoinHostPort(*host, strconv.Itoa(*port))

	cfg := client.DefaultConfig(addr)
	cfg.ReadTimeout = time.Duration(*timeout) * time.Second

	c, err := client.Dial(cfg)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer func() {
		_ = c.Close()
		p.info.Fprintln(out, "Disconnected")
	}()

	p.info.Fprintf(out, "Connected to %s\n", addr)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, p.prompt.Sprint("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		message := scanner.Text()
		if isExitCommand(message) {
			return nil
		}

		resp, err := c.Request(message)
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s %s\n", p.label.Sprint("Response:"), resp)
		case errors.Is(err, io.EOF):
			p.warn.Fprintln(out, "Server closed the connection")
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			p.err.Fprintf(out, "Error: %v\n", err)
			return err
		}
	}
}

func isExitCommand(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit", "q":
		return true
	}
	return false
}

type palette struct {
	prompt *color.Color
	label  *color.Color
	info   *color.Color
	warn   *color.Color
	err    *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		prompt: color.New(color.FgCyan, color.Bold),
		label:  color.New(color.FgGreen),
		info:   color.New(color.FgHiBlack),
		warn:   color.New(color.FgYellow),
		err:    color.New(color.FgRed),
	}

	if noColor {
		for _, c := range []*color.Color{p.prompt, p.label, p.info, p.warn, p.err} {
			c.DisableColor()
		}
	}

	return p
}

func printClientUsage(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(out, `rediminute-cli v%s

Interactive client: every line typed is sent to the server and the
response is printed. Type exit, quit or q to leave.

Usage:
  rediminute-cli [options]

Options:
`, version)
	fs.SetOutput(out)
	fs.PrintDefaults()
}
