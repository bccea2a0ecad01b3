package main

// Terminal demo client: connects to a gigbridge backend, prints incoming
// events and turns stdin lines into messages. Slash commands cover the
// rest of the surface:
//
//   /select <conversation-id>
//   /list
//   /file <path>
//   /record, /stop, /voice, /cancel
//   /quit

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gigbridge/chatkit/attach"
	"github.com/gigbridge/chatkit/auth"
	"github.com/gigbridge/chatkit/config"
	"github.com/gigbridge/chatkit/conn"
	"github.com/gigbridge/chatkit/notify"
	"github.com/gigbridge/chatkit/presence"
	"github.com/gigbridge/chatkit/rest"
	"github.com/gigbridge/chatkit/store"
	"github.com/gigbridge/chatkit/typing"
	"github.com/gigbridge/chatkit/voice"
	"github.com/gigbridge/chatkit/wire"
)

var (
	flagConfig      = flag.String("config", "", "optional YAML config file")
	flagToken       = flag.String("token", "", "bearer token (required)")
	flagMic         = flag.String("mic", "", "file to read as microphone input for /record")
	flagMetricsAddr = flag.String("metrics-addr", "127.0.0.1:9123", "prometheus /metrics listen address")
)

// fileDevice plays a local file back as microphone input.
type fileDevice struct {
	path string
}

func (d *fileDevice) Open(ctx context.Context) (voice.Capture, error) {
	if d.path == "" {
		return nil, fmt.Errorf("no --mic file configured")
	}
	return os.Open(d.path)
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if *flagToken == "" {
		glog.Exit("--token is required")
	}

	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		cfg, err = config.Load(*flagConfig)
		if err != nil {
			glog.Exitf("load config: %v", err)
		}
	}

	sess, err := auth.FromToken(*flagToken)
	if err != nil {
		glog.Exitf("bad token: %v", err)
	}
	glog.Infof("demo: signed in as %s", sess.UserID())

	sink := notify.Func(func(n notify.Notice) {
		fmt.Printf("!! [%s] %s: %v\n", n.Kind, n.Message, n.Err)
	})

	manager := conn.NewManager(conn.Config{
		URL:              cfg.WS.URL,
		HandshakeTimeout: cfg.WS.HandshakeTimeout,
	}, sess, sink)

	api := rest.NewClient(cfg.API.BaseURL, sess, cfg.API.Timeout, cfg.API.RetryMaxElapsed)
	st := store.New(sess, manager, api, sink)
	ty := typing.New(sess, manager, cfg.Typing.Debounce, cfg.Typing.TTL, cfg.Typing.Sweep)
	defer ty.Close()
	pr := presence.New()
	pipe := attach.NewPipeline(api, st, sink)
	rec := voice.NewRecorder(&fileDevice{path: *flagMic}, pipe, sink, cfg.Voice.MaxDuration)
	defer rec.Close()

	manager.Subscribe(st.OnServerEvent)
	manager.Subscribe(ty.OnServerEvent)
	manager.Subscribe(pr.OnServerEvent)
	manager.Subscribe(func(ev *wire.ServerEvent) {
		if m := ev.NewMessage; m != nil {
			fmt.Printf("<- [%s] %s: %s\n", m.ConversationID, m.SenderID, m.Content)
		} else if t := ev.Typing; t != nil {
			fmt.Printf("<- %s is typing in %s\n", t.UserName, t.ConversationID)
		} else if p := ev.Online; p != nil {
			fmt.Printf("<- %s is %s\n", p.UserID, presence.Describe(true, time.Time{}, time.Now()))
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager.OnConnect(func() { go st.Resync(ctx) })
	go manager.Run(ctx)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(*flagMetricsAddr, mux); err != nil {
			glog.Errorf("metrics server: %v", err)
		}
	}()

	repl(ctx, st, ty, pipe, rec)
}

func repl(ctx context.Context, st *store.Store, ty *typing.Coordinator, pipe *attach.Pipeline, rec *voice.Recorder) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			active := st.Active()
			if active == "" {
				fmt.Println("no conversation selected, use /select <id>")
				continue
			}
			ty.InputChanged(active)
			if _, err := st.Send(active, line, wire.TypeText, nil, ""); err == nil {
				ty.StopTyping(active)
			}
			continue
		}

		cmd, arg, _ := strings.Cut(line[1:], " ")
		switch cmd {
		case "quit":
			return
		case "list":
			for _, c := range st.Conversations() {
				fmt.Printf("  %s unread=%d starred=%v\n", c.ID, c.UnreadCount, c.IsStarred)
			}
		case "select":
			st.Select(arg)
			if err := st.LoadHistory(ctx, arg, 1, 50); err == nil {
				for _, m := range st.Messages(arg) {
					fmt.Printf("  [%s] %s: %s (%s)\n", m.CreatedAt.Format("15:04"), m.SenderID, m.Content, m.State)
				}
			}
		case "file":
			data, err := os.ReadFile(arg)
			if err != nil {
				fmt.Printf("!! %v\n", err)
				continue
			}
			pipe.UploadAndSend(ctx, st.Active(), []attach.File{{Name: arg, Data: data}})
		case "record":
			if err := rec.Start(ctx); err != nil {
				fmt.Printf("!! %v\n", err)
			}
		case "stop":
			if err := rec.Stop(); err != nil {
				fmt.Printf("!! %v\n", err)
			} else {
				fmt.Printf("recorded %s\n", rec.Duration())
			}
		case "voice":
			if err := rec.Send(ctx, st.Active()); err != nil {
				fmt.Printf("!! %v\n", err)
			}
		case "cancel":
			rec.Cancel()
		default:
			fmt.Printf("unknown command: /%s\n", cmd)
		}
	}
}
