// Audiolink: CLI entry point.
//
// This tool streams live PCM audio from a capture device on one machine to a
// playback device on another, over TCP, WebSocket or a WebRTC DataChannel.
// The producer listens and the consumer connects; both recover from every
// failure on their own.
//
// It can be launched interactively (no subcommand) or non-interactively via
// the produce and consume subcommands and their flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/audiolink/internal/audio"
	"github.com/1ureka/audiolink/internal/config"
	"github.com/1ureka/audiolink/internal/stream"
	"github.com/1ureka/audiolink/internal/transport"
	"github.com/1ureka/audiolink/internal/util"
)

var version = "dev"

// overrides holds the flags that take precedence over the config file.
type overrides struct {
	device    string
	host      string
	port      int
	transport string
}

var (
	configPath string
	debugMode  bool
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "audiolink",
		Short:         "Stream live audio between two machines",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if debugMode {
				util.EnableDebug()
			}
			pterm.Info.Println(fmt.Sprintf("Audiolink — v%s", version))
			pterm.Println()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			// No subcommand → interactive mode.
			return run(cmd.Context(), askRole(), overrides{})
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.audiolink/audiolink-<role>.yaml)")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	root.AddCommand(
		newRoleCmd(config.RoleProducer, "server", "Capture audio and serve it to a consumer"),
		newRoleCmd(config.RoleConsumer, "client", "Connect to a producer and play its audio"),
	)
	return root
}

func newRoleCmd(role config.Role, alias, short string) *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:     string(role),
		Aliases: []string{alias},
		Short:   short,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), role, o)
		},
	}
	cmd.Flags().StringVar(&o.device, "device", "", "audio device (-, file path, tone[:hz] or null)")
	cmd.Flags().StringVar(&o.host, "host", "", "address to listen on (produce) or connect to (consume)")
	cmd.Flags().IntVar(&o.port, "port", 0, "TCP port, 1~65535")
	cmd.Flags().StringVar(&o.transport, "transport", "", "tcp, ws or webrtc")
	return cmd
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// run resolves the configuration of role and streams until ctx is cancelled.
func run(ctx context.Context, role config.Role, o overrides) error {
	cfg, used, err := config.Load(configPath, role)
	if err != nil {
		return err
	}
	if used != "" {
		util.LogDebug("Loaded settings from %s", used)
	}

	applyOverrides(&cfg, o)
	if debugMode {
		cfg.Debug = true
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	if prompted := askMissing(&cfg); prompted {
		if err := config.Save(cfg, configPath); err != nil {
			util.LogWarning("Could not save settings: %v", err)
		} else {
			util.LogInfo("Settings saved to %s", savedPath(cfg))
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	util.StartStatsReporter(ctx, cfg.StatsInterval)

	switch role {
	case config.RoleProducer:
		util.LogInfo("Producing from %q on %s via %s", cfg.Device, cfg.Addr(), cfg.Kind())
		err = stream.NewProducer(cfg).Run(ctx)
	default:
		var c *stream.Consumer
		c, err = stream.NewConsumer(cfg)
		if err == nil {
			util.LogInfo("Consuming into %q from %s via %s", cfg.Device, cfg.Addr(), cfg.Kind())
			err = c.Run(ctx)
		}
	}
	if err != nil {
		return err
	}

	util.LogInfo("successfully closed audio stream")
	return nil
}

func applyOverrides(cfg *config.Config, o overrides) {
	if o.device != "" {
		cfg.Device = o.device
	}
	if o.host != "" {
		cfg.Host = o.host
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.transport != "" {
		cfg.Transport = o.transport
	}
}

func savedPath(cfg config.Config) string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath(cfg.Role)
}

// ---------------------------------------------------------------------------
// Prompts
// ---------------------------------------------------------------------------

// askRole asks which end of the stream to run.
func askRole() config.Role {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Produce — Capture and serve audio", "Consume — Connect and play audio"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Produce") {
		return config.RoleProducer
	}
	return config.RoleConsumer
}

// askMissing prompts for every required value the config file and flags left
// empty or invalid, and reports whether anything was asked.
func askMissing(cfg *config.Config) bool {
	prompted := false

	if cfg.Device == "" {
		prompt := "Playback device (- for stdout, file path or null)"
		if cfg.Role == config.RoleProducer {
			prompt = "Capture device (- for stdin, file path, tone[:hz] or null)"
		}
		cfg.Device = askText(prompt, audio.DeviceStdio)
		prompted = true
	}
	if cfg.Role == config.RoleConsumer && cfg.Host == "" {
		cfg.Host = askText("Producer host (e.g. 192.168.1.20)", "")
		prompted = true
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		cfg.Port = askPort("Port (1 ~ 65535)")
		prompted = true
	}
	if _, err := transport.ParseKind(cfg.Transport); err != nil {
		cfg.Transport = string(askTransport())
		prompted = true
	}
	return prompted
}

// askText prompts until a non-empty value is entered, or returns def when one
// is given and the input is empty.
func askText(prompt, def string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		pterm.Println()

		if v := strings.TrimSpace(raw); v != "" {
			return v
		}
		if def != "" {
			return def
		}
		util.LogWarning("a value is required")
	}
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askTransport asks which byte stream to carry the audio over.
func askTransport() transport.Kind {
	options := make([]string, len(transport.Kinds))
	for i, k := range transport.Kinds {
		options[i] = string(k)
	}

	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions(options).
		WithDefaultText("Select a transport").
		Show()

	pterm.Println()

	k, err := transport.ParseKind(choice)
	if err != nil {
		return transport.KindTCP
	}
	return k
}
