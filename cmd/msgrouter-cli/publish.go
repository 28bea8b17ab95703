package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
)

type publishOptions struct {
	id        string
	topic     string
	msgType   string
	priority  string
	metadata  map[string]string
	payload   string
	byContent bool
}

func newPublishCommand() *cobra.Command {
	var opts publishOptions

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Inject a message into the broker (admin only)",
		Long: `Inject a message into the broker and report which routes received it.
The payload should be a JSON object. With --by-content the message is matched
against content routes instead of topic routes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Message ID (generated when empty)")
	cmd.Flags().StringVar(&opts.topic, "topic", "", "Message topic")
	cmd.Flags().StringVar(&opts.msgType, "type", "", "Message type: command, event, query or response")
	cmd.Flags().StringVar(&opts.priority, "priority", "", "Message priority: low, medium, high or urgent")
	cmd.Flags().StringToStringVar(&opts.metadata, "meta", nil, "Metadata headers as key=value pairs")
	cmd.Flags().StringVar(&opts.payload, "payload", "{}", "Message payload as a JSON object")
	cmd.Flags().BoolVar(&opts.byContent, "by-content", false, "Dispatch against content routes")

	return cmd
}

func runPublish(cmd *cobra.Command, opts publishOptions) error {
	req, err := opts.request()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Publishing message to topic '%s'...\n", req.Topic)

	response, err := client.Publish(ctx, req)
	if err != nil {
		var apiErr *httpclient.APIError
		if errors.As(err, &apiErr) && apiErr.Delivery != nil {
			printDelivery(cmd, apiErr.Delivery)
		}
		return err
	}

	fmt.Fprintf(out, "✅ Message delivered!\n")
	printDelivery(cmd, response)
	return nil
}

// request validates the flags and builds the publish request
func (o publishOptions) request() (httpclient.PublishRequest, error) {
	req := httpclient.PublishRequest{
		ID:        o.id,
		Topic:     o.topic,
		Metadata:  o.metadata,
		ByContent: o.byContent,
	}

	if o.topic == "" && !o.byContent {
		return req, fmt.Errorf("--topic is required unless --by-content is set")
	}

	if o.payload != "" {
		if err := json.Unmarshal([]byte(o.payload), &req.Payload); err != nil {
			return req, fmt.Errorf("invalid JSON payload: %w", err)
		}
	}

	if o.msgType != "" {
		t, err := message.ParseType(o.msgType)
		if err != nil {
			return req, err
		}
		req.Type = &t
	}

	if o.priority != "" {
		p, err := message.ParsePriority(o.priority)
		if err != nil {
			return req, err
		}
		req.Priority = &p
	}

	return req, nil
}

func printDelivery(cmd *cobra.Command, resp *httpclient.DeliveryResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Message ID: %s\n", resp.MessageID)
	fmt.Fprintf(out, "Matched: %d\n", resp.Matched)
	fmt.Fprintf(out, "Delivered: %d\n", resp.Delivered)
	for _, f := range resp.Failures {
		fmt.Fprintf(out, "   ❌ %s: %s\n", f.RouteID, f.Error)
	}
}
