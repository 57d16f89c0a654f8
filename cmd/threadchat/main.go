package main

import (
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/threadchat/cmd/threadchat/cmds"
	"github.com/go-go-golems/threadchat/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "threadchat",
	Short: "threadchat keeps threaded conversations with OpenAI, Claude and Gemini models",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		initLogger()
	},
	SilenceUsage: true,
}

func initLogger() {
	logLevel := viper.GetString("log-level")
	verbose := viper.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}

	err := InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
	cobra.CheckErr(err)
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func initConfig(rootCmd *cobra.Command, configPath string) error {
	viper.SetEnvPrefix("threadchat")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.threadchat")
		viper.AddConfigPath("/etc/threadchat")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/threadchat")
		}
	}

	err := viper.ReadInConfig()
	// a missing config file is fine, everything has a default
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())

	err = viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		return err
	}

	initLogger()

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func InitLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}
	var logWriter io.Writer
	if config.LogFormat == "text" {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	} else {
		logWriter = os.Stderr
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
					Compress:   false,
				},
			})
	}

	log.Logger = log.Output(logWriter)

	switch config.Level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// logging flags
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")

	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.threadchat/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	rootCmd.PersistentFlags().String("openai-api-key", "", "OpenAI API key")
	rootCmd.PersistentFlags().String("openai-base-url", "", "OpenAI base URL")
	rootCmd.PersistentFlags().String("anthropic-api-key", "", "Anthropic API key")
	rootCmd.PersistentFlags().String("claude-base-url", "", "Claude API base URL")
	rootCmd.PersistentFlags().String("claude-model", "", "Upstream model used for 'claude'")
	rootCmd.PersistentFlags().String("google-api-key", "", "Gemini API key")
	rootCmd.PersistentFlags().String("google-cloud-api-key", "", "Google Cloud Vision API key (OCR)")
	rootCmd.PersistentFlags().String("gemini-text-model", "", "Upstream model used for 'gemini-pro'")
	rootCmd.PersistentFlags().String("gemini-vision-model", "", "Upstream model used for image requests to gemini")
	rootCmd.PersistentFlags().String("title-model", "", "Model used for titles and summaries")
	rootCmd.PersistentFlags().String("storage", "", "Storage backend (memory, file, sqlite)")
	rootCmd.PersistentFlags().String("storage-path", "", "Directory holding the chat store")

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" {
			if len(os.Args) > idx+1 {
				configFile = os.Args[idx+1]
			}
		}
	}

	err := initConfig(rootCmd, configFile)
	if err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		cmds.NewServeCommand(),
		cmds.NewChatCommand(),
		cmds.NewListCommand(),
		cmds.NewTreeCommand(),
		cmds.NewShowCommand(),
		cmds.NewDeleteCommand(),
		cmds.NewSearchCommand(),
		cmds.NewContinueCommand(),
		cmds.NewRenameCommand(),
		cmds.NewSetModelCommand(),
		cmds.NewExportCommand(),
		cmds.NewImportCommand(),
		cmds.NewConfigCommand(),
	)
}
