// Voicewire — CLI entry point.
//
// This tool links a voice-assistant device to an audio-processing server
// over a peer-to-peer WebRTC audio channel. A WebSocket signaling channel
// drives the offer/answer/ICE exchange and stays up for control traffic,
// surviving transient network loss via supervised reconnection.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -addr, -url, -clientId).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/voicewire/voicewire/internal/client"
	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/rtc"
	"github.com/voicewire/voicewire/internal/server"
	"github.com/voicewire/voicewire/internal/session"
	"github.com/voicewire/voicewire/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	role := flag.String("role", "", "Role: server or client")
	addr := flag.String("addr", "", "Listen address (server only)")
	serverURL := flag.String("url", "", "Signaling server URL to connect to (client only)")
	clientID := flag.String("clientId", "", "Stable device identifier (client only, generated if empty)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Voicewire — v%s", version))
	pterm.Println()

	cfg := config.Load()
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}

	switch *role {
	case "":
		// No -role flag → interactive mode.
		runInteractive(ctx, cfg, *clientID)

	case "server":
		runServer(ctx, cfg)

	case "client":
		if cfg.ServerURL == "" {
			util.LogError("missing -url for client role")
			os.Exit(1)
		}
		runClient(ctx, cfg, *clientID)

	default:
		util.LogError("invalid -role: must be 'server' or 'client'")
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive falls back to interactive prompts when no -role flag is
// provided.
func runInteractive(ctx context.Context, cfg config.Config, clientID string) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server — Accept device audio sessions", "Client — Connect a device to a server"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Server") {
		runServer(ctx, cfg)
	} else {
		cfg.ServerURL = askURL()
		runClient(ctx, cfg, clientID)
	}
}

// runServer hosts the signaling endpoint and the per-client peer sessions.
func runServer(ctx context.Context, cfg config.Config) {
	srv := server.New(cfg, func() (session.MediaEngine, error) {
		return rtc.NewEngine(cfg.ICEServers())
	})

	port, err := srv.Start()
	if err != nil {
		util.LogError("failed to start server: %v", err)
		os.Exit(1)
	}
	defer srv.Close()

	util.StartStatsReporter(ctx)
	util.LogInfo("ready for device connections on port %d", port)

	<-ctx.Done()
	util.LogInfo("shutting down")
}

// runClient connects a device to the server and reports lifecycle events
// until the session ends.
func runClient(ctx context.Context, cfg config.Config, clientID string) {
	engine, err := rtc.NewEngine(cfg.ICEServers())
	if err != nil {
		util.LogError("failed to create media engine: %v", err)
		os.Exit(1)
	}

	c, err := client.New(cfg, engine, clientID)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		util.LogError("failed to reach signaling server: %v", err)
		os.Exit(1)
	}

	util.StartStatsReporter(ctx)
	util.LogInfo("session %s started (client %s)", c.SessionID(), c.ClientID())

	for {
		select {
		case ev := <-c.Events():
			switch ev.Kind {
			case client.EventConnected:
				util.LogInfo("audio session connected — codec: %s", c.NegotiatedCodec())
			case client.EventFailed:
				util.LogError("audio session failed: %v", ev.Err)
				return
			case client.EventClosed:
				util.LogInfo("audio session closed")
				return
			default:
				util.LogInfo("audio session: %s", ev.Kind)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askURL prompts the user for a valid server URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Server URL (e.g. ws://localhost:8080/ws/signaling)").
			Show()

		raw = strings.TrimSpace(raw)
		if raw != "" {
			pterm.Println()
			return raw
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a server URL")
	}
}
