// Command lrinspect connects to a page the way a browser would and shows its
// live regions as they change.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/livefir/liveregion/client"
	"github.com/livefir/liveregion/protocol"
)

const version = "0.1.0"

const usage = `Inspect the live regions of a page.

By default the websocket endpoint is the page's host at /live.

Usage:
    lrinspect watch <page_url> [--ws=<ws_url>] [--codec=<codec>] [--token=<token>]
    lrinspect dump <page_url> [--ws=<ws_url>] [--codec=<codec>] [--token=<token>] [--timeout=<timeout>]
    lrinspect -h | --help
    lrinspect --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --ws=<ws_url>          Websocket endpoint.
    --codec=<codec>        Wire codec, json or cbor [default: json].
    --token=<token>        Session token for servers in token mode.
    --timeout=<timeout>    How long dump waits for the first sync [default: 10s].`

type target struct {
	pageURL string
	wsURL   string
	codec   protocol.Codec
}

func main() {
	// glog reads its flags from the standard flag set; keep it quiet on the
	// terminal the UI draws on
	_ = flag.CommandLine.Parse([]string{"-logtostderr=false"})
	defer glog.Flush()

	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	t, err := parseTarget(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if watch, _ := opts.Bool("watch"); watch {
		err = runWatch(t)
	} else {
		timeout := 10 * time.Second
		if s, _ := opts.String("--timeout"); s != "" {
			if timeout, err = time.ParseDuration(s); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(2)
			}
		}
		err = runDump(t, timeout)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseTarget(opts docopt.Opts) (target, error) {
	page, _ := opts.String("<page_url>")
	ws, _ := opts.String("--ws")
	name, _ := opts.String("--codec")
	tok, _ := opts.String("--token")

	if name == "" {
		name = "json"
	}
	codec, err := protocol.CodecFor("liveregion." + name)
	if err != nil {
		return target{}, err
	}

	if ws == "" {
		if ws, err = defaultEndpoint(page); err != nil {
			return target{}, err
		}
	}
	if tok != "" {
		page = withToken(page, tok)
		ws = withToken(ws, tok)
	}
	return target{pageURL: page, wsURL: ws, codec: codec}, nil
}

// defaultEndpoint maps http(s)://host/any to ws(s)://host/live
func defaultEndpoint(page string) (string, error) {
	u, err := url.Parse(page)
	if err != nil {
		return "", fmt.Errorf("invalid page url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported page url scheme %q", u.Scheme)
	}
	u.Path, u.RawQuery, u.Fragment = "/live", "", ""
	return u.String(), nil
}

func withToken(raw, tok string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("token", tok)
	u.RawQuery = q.Encode()
	return u.String()
}

func open(ctx context.Context, t target, hook func(client.Update)) (*client.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return client.Open(ctx, t.pageURL, t.wsURL, jar, client.WithCodec(t.codec), client.WithUpdateHook(hook))
}

func runWatch(t target) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan client.Update, 64)
	c, err := open(ctx, t, func(u client.Update) {
		select {
		case updates <- u:
		default:
			glog.Warningf("ui is behind, dropping update for %s", u.RegionID)
		}
	})
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	p := tea.NewProgram(newModel(c, t.pageURL, updates, done), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runDump(t target, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	synced := make(chan struct{}, 1)
	c, err := open(ctx, t, func(u client.Update) {
		if u.Channel == protocol.ChannelInit {
			select {
			case synced <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer c.Close()

	go c.Run(ctx)

	select {
	case <-synced:
	case <-ctx.Done():
		return fmt.Errorf("no init message within %s", timeout)
	}

	// hooks run after the whole init message has been applied
	fmt.Print(dump(c))
	return nil
}
