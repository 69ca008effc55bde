package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dan-v/rattlesnakeos-builder/internal/config"
	"github.com/dan-v/rattlesnakeos-builder/internal/templates"
	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile                   string
	envFile                   string
	logLevel                  string
	logJSON                   bool
	defaultConfigFileBase     = ".rattlesnakeos-builder"
	defaultConfigFileFormat   = "toml"
	defaultConfigFile         = fmt.Sprintf("%v.%v", defaultConfigFileBase, defaultConfigFileFormat)
	defaultConfigFileFullPath string
	configFileFullPath        string
	version                   string
	templatesFiles            *templates.TemplateFiles
)

// Execute the CLI
func Execute(ver string, templFiles *templates.TemplateFiles) {
	version = ver
	templatesFiles = templFiles
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", logLevel, err)
	}
	log.SetLevel(level)
	if logJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

func initConfig() {
	initLogging()

	home, err := homedir.Dir()
	if err != nil {
		log.WithError(err).Fatal("couldn't find home dir")
	}
	defaultConfigFileFullPath = filepath.Join(home, defaultConfigFile)

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Fatalf("failed to load env file %v: %v", envFile, err)
		}
	}

	config.SetDefaults(viper.GetViper(), home)
	if err := config.BindEnv(viper.GetViper()); err != nil {
		log.Fatal(err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		configFileFullPath = cfgFile
		if _, err := os.Stat(configFileFullPath); os.IsNotExist(err) {
			log.Infof("config file %v doesn't exist yet - creating it", configFileFullPath)
			_, err := os.Create(configFileFullPath)
			if err != nil {
				log.Fatalf("failed to create config file %v", configFileFullPath)
			}
		}
	} else {
		viper.SetConfigName(defaultConfigFileBase)
		viper.SetConfigType(defaultConfigFileFormat)
		viper.AddConfigPath(home)
		configFileFullPath = defaultConfigFileFullPath
	}

	if err := viper.ReadInConfig(); err != nil {
		if viper.ConfigFileUsed() != "" {
			log.Fatalf("failed to parse config file %v. error: %v", viper.ConfigFileUsed(), err)
		}
	}
	if viper.ConfigFileUsed() != "" {
		log.Debugf("using config file: %v", viper.ConfigFileUsed())
	}
}

// bindFlags binds each named flag to the viper key of the same name
func bindFlags(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			log.Fatalf("failed to bind flag %v: %v", name, err)
		}
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config-file", "", fmt.Sprintf("config file (default location to look for config is $HOME/%s)", defaultConfigFile))
	flags.StringVar(&envFile, "env-file", "", "dotenv file with inputs in environment form (e.g. OS_NAME=grapheneos)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&logJSON, "log-json", false, "log in json format")

	flags.String(config.KeyOSName, "", "name of the OS being built (e.g. grapheneos)")
	flags.StringP(config.KeyDevices, "d", "", "comma separated list of devices to build (e.g. husky,shiba)")
	flags.String(config.KeyTag, "", "source tag or branch to sync (e.g. 2025020100)")
	flags.String(config.KeyBuildID, "", "platform build id (e.g. AP4A.250105.002)")
	flags.String(config.KeyOSVersion, "", "android version being built (e.g. 15)")
	flags.String("build-number", "", "build number passed to the release scripts (default is the tag)")
	flags.String("build-variant", "", fmt.Sprintf("lunch build variant (default %v)", config.DefaultBuildVariant))
	flags.IntP("jobs", "j", 0, "parallel jobs for repo sync and the build (default 8)")
	flags.String("source-dir", "", "where the platform tree is checked out")
	flags.String("release-dir", "", "where release directories are collected")
	flags.String("build-log", "", "file the raw output of every external tool is appended to")
	flags.Bool("root", false, "patch the signed OTA with Magisk through avbroot")
	flags.String("release-bucket", "", "optional S3 bucket release directories are uploaded to")
	bindFlags(flags,
		config.KeyOSName,
		config.KeyDevices,
		config.KeyTag,
		config.KeyBuildID,
		config.KeyOSVersion,
		"build-number",
		"build-variant",
		"jobs",
		"source-dir",
		"release-dir",
		"build-log",
		"root",
		"release-bucket",
	)
}

var rootCmd = &cobra.Command{
	Use: "rattlesnakeos-builder",
	Short: "a tool that builds signed GrapheneOS based releases for Pixel devices and watches upstream for new " +
		"release tags to rebuild on.",
}
