package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dan-v/rattlesnakeos-builder/internal/cloudaws"
	"github.com/dan-v/rattlesnakeos-builder/internal/config"
	"github.com/dan-v/rattlesnakeos-builder/internal/devices"
	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func prompt(label, key string, validate promptui.ValidateFunc) {
	p := promptui.Prompt{
		Label:    label,
		Default:  viper.GetString(key),
		Validate: validate,
	}
	result, err := p.Run()
	if err != nil {
		log.Fatalf("prompt failed %v\n", err)
	}
	viper.Set(key, result)
}

func notEmpty(name string) promptui.ValidateFunc {
	return func(input string) error {
		if len(strings.TrimSpace(input)) < 1 {
			return fmt.Errorf("%v is too short", name)
		}
		return nil
	}
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Setup config file for rattlesnakeos-builder",
	Run: func(cmd *cobra.Command, args []string) {
		supported, err := devices.Pixel()
		if err != nil {
			log.Fatal(err)
		}

		color.Cyan(fmt.Sprintln("OS name identifies the OS being built (e.g. grapheneos)."))
		prompt("OS name ", config.KeyOSName, notEmpty("OS name"))

		color.Cyan(fmt.Sprintln("Devices is a comma separated list of device codenames (e.g. husky,shiba). Supported devices:",
			supported.GetSupportedDevicesOutput()))
		prompt("Devices ", config.KeyDevices, func(input string) error {
			if len(input) < 1 {
				return errors.New("Device list is too short")
			}
			for _, d := range strings.Split(input, ",") {
				if !supported.IsSupportedDevice(strings.TrimSpace(d)) {
					return fmt.Errorf("Invalid device %v", d)
				}
			}
			return nil
		})

		color.Cyan(fmt.Sprintln("Certificate common name is used as the subject of generated signing keys."))
		prompt("Certificate common name ", "cert-common-name", notEmpty("Certificate common name"))

		color.Cyan(fmt.Sprintln("Apprise URLs are optional comma separated notification endpoints (e.g. tgram://token/chat)."))
		prompt("Apprise URLs ", "apprise-urls", nil)

		color.Cyan(fmt.Sprintf("AWS region is used for SNS notifications and the release bucket. Leave empty when not using AWS. Valid options: %v\n",
			strings.Join(cloudaws.GetSupportedRegions(), ", ")))
		prompt("AWS region ", "aws-region", func(input string) error {
			if input != "" && !cloudaws.IsSupportedRegion(input) {
				return errors.New("Invalid region")
			}
			return nil
		})

		color.Cyan(fmt.Sprintln("Build mode controls which upstream releases the monitor builds:", config.ModeOnRelease, "or", config.ModeMonthly))
		prompt("Build mode ", "build-mode", func(input string) error {
			if input != config.ModeOnRelease && input != config.ModeMonthly {
				return errors.New("Invalid build mode")
			}
			return nil
		})

		err = viper.WriteConfigAs(configFileFullPath)
		if err != nil {
			log.WithError(err).Fatalf("failed to write config file %s", configFileFullPath)
		}
		log.Infof("rattlesnakeos-builder config file has been written to %v", configFileFullPath)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "print the effective config",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		settings := map[string]interface{}{}
		for _, key := range config.Keys() {
			settings[key] = viper.Get(key)
		}
		// never print secrets
		if cfg.KeyPassphrase != "" {
			settings["key-passphrase"] = "<redacted>"
		}

		out, err := yaml.Marshal(settings)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Print(string(out))
	},
}
