package cloudaws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

const (
	// DefaultSNSSubject is the subject of published notifications
	DefaultSNSSubject = "rattlesnakeos-builder"
)

type snsAPI interface {
	ListTopics(ctx context.Context, params *sns.ListTopicsInput, optFns ...func(*sns.Options)) (*sns.ListTopicsOutput, error)
	ListSubscriptionsByTopic(ctx context.Context, params *sns.ListSubscriptionsByTopicInput, optFns ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func newSNSClient(ctx context.Context, region string) (*sns.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default aws config: %w", err)
	}
	client := sns.NewFromConfig(cfg)
	if err := checkSNSAccess(ctx, client); err != nil {
		return nil, err
	}
	return client, nil
}

// SubscribeClient is a client that allows subscription to SNS topic
type SubscribeClient struct {
	client   snsAPI
	topicARN string
	email    string
}

// NewSubscribeClient provides an initialized SubscribeClient
func NewSubscribeClient(ctx context.Context, topicARN, region, email string) (*SubscribeClient, error) {
	client, err := newSNSClient(ctx, region)
	if err != nil {
		return nil, err
	}
	return &SubscribeClient{
		client:   client,
		topicARN: topicARN,
		email:    email,
	}, nil
}

// Subscribe subscribes email to the topic. If subscribe happens, returns true, otherwise false.
func (c *SubscribeClient) Subscribe(ctx context.Context) (bool, error) {
	input := &sns.ListSubscriptionsByTopicInput{TopicArn: aws.String(c.topicARN)}
	for {
		resp, err := c.client.ListSubscriptionsByTopic(ctx, input)
		if err != nil {
			return false, fmt.Errorf("failed to list SNS subscriptions for topic %v: %w", c.topicARN, err)
		}

		// if subscription already exists return
		for _, subscription := range resp.Subscriptions {
			if aws.ToString(subscription.Endpoint) == c.email {
				return false, nil
			}
		}

		if resp.NextToken == nil {
			break
		}
		input.NextToken = resp.NextToken
	}

	_, err := c.client.Subscribe(ctx, &sns.SubscribeInput{
		Protocol: aws.String("email"),
		TopicArn: aws.String(c.topicARN),
		Endpoint: aws.String(c.email),
	})
	if err != nil {
		return false, fmt.Errorf("failed to setup email notifications: %w", err)
	}
	return true, nil
}

// SNSPublisher posts notifications to an SNS topic
type SNSPublisher struct {
	client   snsAPI
	topicARN string
}

// NewSNSPublisher returns an initialized SNSPublisher
func NewSNSPublisher(ctx context.Context, topicARN, region string) (*SNSPublisher, error) {
	client, err := newSNSClient(ctx, region)
	if err != nil {
		return nil, err
	}
	return &SNSPublisher{client: client, topicARN: topicARN}, nil
}

// Notify publishes message to the topic
func (p *SNSPublisher) Notify(ctx context.Context, message string) error {
	_, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(DefaultSNSSubject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %v: %w", p.topicARN, err)
	}
	return nil
}

func checkSNSAccess(ctx context.Context, client snsAPI) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	_, err := client.ListTopics(ctx, &sns.ListTopicsInput{})
	if err != nil {
		return fmt.Errorf("unable to list SNS topics - make sure you have valid AWS credentials: %w", err)
	}
	return nil
}
