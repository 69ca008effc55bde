package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dan-v/rattlesnakeos-builder/internal/cloudaws"
	"github.com/dan-v/rattlesnakeos-builder/internal/runner"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultNotifyTimeout = time.Second * 30

var email string

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyTestCmd)
	notifyCmd.AddCommand(notifySubscribeCmd)

	flags := notifyCmd.PersistentFlags()
	flags.StringSlice("apprise-urls", nil, "apprise notification urls")
	flags.String("sns-topic-arn", "", "aws sns topic for notifications")
	flags.String("aws-region", "", "aws region of the sns topic and release bucket")
	bindFlags(flags, "apprise-urls", "sns-topic-arn", "aws-region")

	notifySubscribeCmd.Flags().StringVarP(&email, "email", "e", "",
		"email address you want to use for build notifications")
	bindFlags(notifySubscribeCmd.Flags(), "email")
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "commands to test and subscribe to build notifications",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("Need to specify a subcommand")
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {},
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "send a test notification to every configured endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultNotifyTimeout)
		defer cancel()

		cfg := loadConfig()
		if err := newNotifier(ctx, cfg, runner.New()).Notify(ctx, "rattlesnakeos-builder test notification"); err != nil {
			log.Fatal(err)
		}
		log.Info("test notification sent")
	},
}

var notifySubscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "subscribe to email notifications for builds",
	Args: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("email") == "" {
			return fmt.Errorf("must provide an email")
		}
		if viper.GetString("sns-topic-arn") == "" {
			return fmt.Errorf("must provide an sns topic arn")
		}
		if viper.GetString("aws-region") == "" {
			return fmt.Errorf("must provide an aws region")
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultNotifyTimeout)
		defer cancel()

		cfg := loadConfig()
		subscribeClient, err := cloudaws.NewSubscribeClient(ctx, cfg.SNSTopicARN, cfg.AWSRegion, viper.GetString("email"))
		if err != nil {
			log.Fatal(err)
		}
		subscribed, err := subscribeClient.Subscribe(ctx)
		if err != nil {
			log.Fatal(err)
		}
		if subscribed {
			log.Infof("subscribed %v to notifications - check your inbox to confirm", viper.GetString("email"))
			return
		}
		log.Infof("%v is already subscribed to notifications", viper.GetString("email"))
	},
}
