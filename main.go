package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"livenotes/audio"
	"livenotes/config"
	"livenotes/doctor"
	"livenotes/log"
)

var version = "dev"

var (
	cfgFile     string
	logPathFlag string
	cfg         *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "livenotes",
	Short: "Live notes from the audio your machine plays",
	Long: `livenotes captures a loopback audio source (a meeting, a video, a talk),
sends it to a transcription backend and assembles the replies into topic
headed notes while the audio is still playing.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		initLogging()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pick, _ := cmd.Flags().GetBool("pick")
		return listDevices(pick)
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check sources, credentials and the configured backend",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		code := doctor.Run(cfg)
		log.Close()
		os.Exit(code)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("livenotes %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is livenotes.yaml in the user config dir or .)")
	rootCmd.PersistentFlags().StringVar(&logPathFlag, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")

	devicesCmd.Flags().Bool("pick", false, "choose a source interactively and print its name")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// initLogging resolves the log directory and opens the diagnostics and
// transcript logs. Failures only cost the logs.
func initLogging() {
	flagPath := logPathFlag
	if flagPath == "" {
		flagPath = cfg.LogPath
	}
	logPath, err := log.ResolveDir(flagPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to resolve log directory: %v\n", err)
		return
	}
	log.SetDir(logPath)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
		return
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
		crashFile.Close()
	}
}

func listDevices(pick bool) error {
	actx, err := audio.NewContext()
	if err != nil {
		return fmt.Errorf("initializing audio: %w", err)
	}
	defer actx.Close()

	if pick {
		dev, err := audio.SelectDevice(actx)
		if err != nil {
			return err
		}
		fmt.Println(dev.Name)
		return nil
	}

	devices, err := actx.Devices()
	if err != nil {
		return fmt.Errorf("enumerating sources: %w", err)
	}
	if len(devices) == 0 {
		fmt.Println("No capture sources found.")
		return nil
	}
	for _, d := range devices {
		line := d.Name
		if tag := audio.SourceTag(d); tag != "" {
			line += " " + tag
		}
		fmt.Printf("%-12s %s\n", d.ID, line)
	}
	return nil
}
