package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	gosip "github.com/ghettovoice/gosip"
	gosiplog "github.com/ghettovoice/gosip/log"
	"gopkg.in/ini.v1"

	"softsip/internal/call"
	"softsip/internal/config"
	"softsip/internal/engine/gosipua"
	"softsip/internal/logging"
)

func main() {
	path := "settings.ini"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := ini.Load(path)
	if err != nil {
		fmt.Printf("failed to load settings: %v\n", err)
		return
	}

	settings, err := config.LoadSettings(cfg)
	if err != nil {
		fmt.Printf("failed to parse settings: %v\n", err)
		return
	}

	logs, err := logging.Init(cfg)
	if err != nil {
		fmt.Printf("failed to init logging: %v\n", err)
		return
	}
	defer logs.Close()

	log := logs.Core
	log.Info("starting softphone")

	srv := gosip.NewServer(
		gosip.ServerConfig{Host: settings.PublicAddress(), UserAgent: "softsip"},
		nil, nil,
		gosiplog.NewLogrusLogger(logs.Engine, "SIP", nil),
	)
	if err := srv.Listen(settings.Transport(), settings.ListenAddr()); err != nil {
		log.Fatalf("failed to listen on %s/%s: %v", settings.ListenAddr(), settings.Transport(), err)
	}
	log.Infof("listening on %s/%s", settings.ListenAddr(), settings.Transport())

	ua := gosipua.New(srv, gosipua.Config{
		URI:           settings.URI(),
		DisplayName:   settings.DisplayName(),
		Registrar:     settings.Registrar(),
		Password:      settings.Password(),
		Expires:       settings.RegisterTTL(),
		SessionTimers: settings.SessionTimers(),
	}, logs.Engine)

	mgr := call.NewManager(ua, log)
	mgr.SetNumber(settings.DefaultNumber())
	if err := mgr.Start(); err != nil {
		log.Fatalf("failed to start user agent: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		for err := range mgr.Errors() {
			log.Warnf("command failed: %v", err)
		}
	}()

	unsubscribe := mgr.Subscribe(func(snap call.Snapshot) {
		printSnapshot(snap)
	})
	defer unsubscribe()

	go readCommands(ctx, mgr, settings, stop)

	if err := mgr.Run(ctx); err != nil {
		log.Warnf("event loop: %v", err)
	}

	mgr.Stop()
	srv.Shutdown()
	log.Info("performing a graceful shutdown...")
	time.Sleep(settings.ShutdownWait())
}

// readCommands drives the manager from stdin until ctx ends or quit.
func readCommands(ctx context.Context, mgr *call.Manager, settings *config.Settings, stop func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "call":
			number := ""
			if len(args) > 0 {
				number = args[0]
			}
			mgr.PlaceCall(settings.DisplayName(), number, nil, settings.ICE())
		case "answer":
			if len(args) > 0 {
				mgr.AnswerCall(args[0], settings.ICE())
			}
		case "hang":
			if len(args) > 0 {
				mgr.TerminateCall(args[0])
			}
		case "hangnum":
			if len(args) > 0 {
				mgr.TerminateByNumber(args[0])
			}
		case "hold":
			if len(args) > 0 {
				mgr.Hold(args[0])
			}
		case "unhold":
			if len(args) > 0 {
				mgr.Unhold(args[0])
			}
		case "toggle":
			if len(args) > 0 {
				mgr.ToggleHold(args[0])
			}
		case "mute":
			if len(args) > 0 {
				mgr.ToggleMute(args[0])
			}
		case "dtmf":
			if len(args) > 1 {
				for _, tone := range strings.Split(args[1], "") {
					mgr.SendDTMF(args[0], tone, nil)
				}
			}
		case "refer":
			if len(args) > 1 {
				mgr.ReferUser(args[0], args[1], true, "")
			}
		case "xfer":
			if len(args) > 1 {
				mgr.AttendedTransfer(args[0], args[1])
			}
		case "info":
			if len(args) > 1 {
				mgr.SendInfo(args[0], "", strings.Join(args[1:], " "))
			}
		case "speaker":
			if len(args) > 1 && args[1] == "off" {
				mgr.SpeakerOff(args[0])
			} else if len(args) > 0 {
				mgr.SpeakerOn(args[0])
			}
		case "state":
			printSnapshot(mgr.Snapshot())
		case "quit", "exit":
			stop()
			return
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

func printSnapshot(snap call.Snapshot) {
	fmt.Printf("status=%s number=%q sessions=%d\n", snap.Status, snap.Number, len(snap.Sessions))
	ids := make([]string, 0, len(snap.Sessions))
	for id := range snap.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := snap.Sessions[id]
		active := " "
		if s.Active {
			active = "*"
		}
		fmt.Printf(" %s %s %-8s %-9s %q <%s>\n", active, id, s.Status, s.Direction, s.DisplayName, s.Number)
	}
}
