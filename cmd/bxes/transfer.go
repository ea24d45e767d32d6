package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/logflow/bxes/internal/logging"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/storage/s3"
	"github.com/logflow/bxes/pkg/stream"
	"github.com/logflow/bxes/pkg/telemetry"
	"github.com/logflow/bxes/pkg/transport/redisstream"
	"github.com/logflow/bxes/pkg/tui"
	"github.com/logflow/bxes/pkg/xes"
)

// Transfer command flags
var (
	scopeFlag    string
	streamFlag   string
	consumeOut   string
	consumeLimit int
)

var publishCmd = &cobra.Command{
	Use:   "publish <input>",
	Short: "Publish a log to a Redis stream, one record per trace variant",
	Long: `Publish the trace variants of an XES file or a bxes log as records on a
Redis stream. With --scope stream only new values are sent in each record and
the stream must be consumed in order by a single consumer.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume records from a Redis stream",
	Long: `Read records from a Redis stream consumer group. With --output the decoded
variants are written to a bxes archive; the archive is finished on Ctrl-C or
after --limit variants.`,
	Args: cobra.NoArgs,
	RunE: runConsume,
}

var pushCmd = &cobra.Command{
	Use:   "push <archive> [key]",
	Short: "Upload a bxes archive to S3",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runPush,
}

var pullCmd = &cobra.Command{
	Use:   "pull <key> <archive>",
	Short: "Download a bxes archive from S3",
	Args:  cobra.ExactArgs(2),
	RunE:  runPull,
}

var lsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List bxes archives in S3",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func init() {
	for _, c := range []*cobra.Command{publishCmd, consumeCmd} {
		c.Flags().StringVar(&scopeFlag, "scope", "", "Pool scope: record or stream (default from config)")
		c.Flags().StringVar(&streamFlag, "stream", "", "Redis stream key (default from config)")
	}
	publishCmd.Flags().StringArrayVar(&valueAttrFlags, "value-attr", nil, "Store an attribute inline with every event (format: key=type)")
	consumeCmd.Flags().StringVarP(&consumeOut, "output", "o", "", "Write consumed variants to this archive")
	consumeCmd.Flags().IntVar(&consumeLimit, "limit", 0, "Stop after this many variants (0 = until interrupted)")

	rootCmd.AddCommand(publishCmd, consumeCmd, pushCmd, pullCmd, lsCmd)
}

func redisOptions() (redisstream.Config, stream.PoolScope, error) {
	rc := cfg.RedisOptions()
	if streamFlag != "" {
		rc.Stream = streamFlag
	}
	scope := cfg.Scope()
	if scopeFlag != "" {
		s, err := stream.ParsePoolScope(scopeFlag)
		if err != nil {
			return rc, scope, err
		}
		scope = s
	}
	return rc, scope, nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	rc, scope, err := redisOptions()
	if err != nil {
		return err
	}
	sys, err := parseValueAttrs(valueAttrFlags)
	if err != nil {
		return err
	}

	client, err := redisstream.Dial(rc)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	producer, err := redisstream.NewProducer(ctx, client, rc, scope, cfg.Codec.Version)
	if err != nil {
		return err
	}
	defer producer.Close(context.Background())

	w := stream.NewMessageWriter(producer, scope, sys)
	in := args[0]

	err = telemetry.Run(ctx, "bxes.publish", func(ctx context.Context) error {
		if strings.EqualFold(path.Ext(in), ".xes") {
			f, err := os.Open(in)
			if err != nil {
				return fmt.Errorf("input does not exist: %s", in)
			}
			defer f.Close()
			return xes.Scan(ctx, f, func(ev stream.Event) error {
				switch ev.(type) {
				case stream.LogProperty, stream.LogExtension, stream.LogGlobal, stream.LogClassifier:
					// Records carry trace variants only.
					return nil
				}
				return w.Handle(ctx, ev)
			})
		}

		res, err := readBxes(in)
		if err != nil {
			return err
		}
		telemetry.AddLog(ctx, res.Log)
		for i := range res.Log.Variants {
			if err := w.WriteVariant(ctx, &res.Log.Variants[i]); err != nil {
				return fmt.Errorf("variant %d: %w", i, err)
			}
		}
		return nil
	}, telemetry.KeyPath.String(in))
	if err != nil {
		return fmt.Errorf("publish failed after %d records: %w", producer.Sent(), err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Published %d records to %s (%s scope)\n", producer.Sent(), rc.Stream, scope)
	return nil
}

func runConsume(cmd *cobra.Command, args []string) error {
	rc, scope, err := redisOptions()
	if err != nil {
		return err
	}

	client, err := redisstream.Dial(rc)
	if err != nil {
		return err
	}
	defer client.Close()

	var out *stream.SingleFileWriter
	if consumeLimit > 0 && rc.Batch > int64(consumeLimit) {
		rc.Batch = int64(consumeLimit)
	}
	if consumeOut != "" {
		out, err = stream.NewSingleFileWriter(consumeOut, cfg.Codec.Version, nil)
		if err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	log := logging.Log()
	consumer := redisstream.NewConsumer(client, rc, scope, cfg.Codec.Version, log)

	var variants, events int
	handle := func(ctx context.Context, v model.TraceVariant) error {
		variants++
		events += len(v.Events)
		log.V(1).Info("variant", "count", v.Count, "events", len(v.Events))

		if out != nil {
			return writeVariant(ctx, out, &v)
		}
		return nil
	}

	if consumeLimit == 0 {
		err = consumer.Run(ctx, handle)
	} else {
		err = client.CreateGroup(ctx, rc.Stream, rc.Group)
		for err == nil && ctx.Err() == nil && variants < consumeLimit {
			_, err = consumer.Poll(ctx, handle)
		}
		if ctx.Err() != nil {
			err = nil
		}
	}

	if out != nil {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("consume failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Consumed %d variants (%d events, %d skipped) from %s\n",
		variants, events, consumer.Skipped(), rc.Stream)
	return nil
}

func writeVariant(ctx context.Context, w *stream.SingleFileWriter, v *model.TraceVariant) error {
	if err := w.Handle(ctx, stream.TraceVariantStart{Count: v.Count, Metadata: v.Metadata}); err != nil {
		return err
	}
	for _, e := range v.Events {
		if err := w.Handle(ctx, stream.TraceEvent{Event: e}); err != nil {
			return err
		}
	}
	return w.Handle(ctx, stream.TraceVariantEnd{})
}

func s3Client(ctx context.Context) (*s3.Client, error) {
	sc := cfg.S3Options()
	if sc.Bucket == "" {
		return nil, fmt.Errorf("no S3 bucket configured (set s3.bucket or BXES_S3_BUCKET)")
	}
	return s3.NewClient(ctx, sc)
}

func objectKey(key string) string {
	return path.Join(cfg.S3.Prefix, key)
}

func runPush(cmd *cobra.Command, args []string) error {
	file := args[0]
	key := path.Base(file)
	if len(args) == 2 {
		key = args[1]
	}
	key = objectKey(key)

	return telemetry.Run(cmd.Context(), "bxes.push", func(ctx context.Context) error {
		client, err := s3Client(ctx)
		if err != nil {
			return err
		}
		if err := client.Upload(ctx, file, key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s to %s://%s/%s\n", file, client.Scheme(), client.Bucket(), key)
		return nil
	}, telemetry.KeyPath.String(file))
}

func runPull(cmd *cobra.Command, args []string) error {
	key, file := objectKey(args[0]), args[1]

	return telemetry.Run(cmd.Context(), "bxes.pull", func(ctx context.Context) error {
		client, err := s3Client(ctx)
		if err != nil {
			return err
		}
		if err := client.Download(ctx, key, file); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s://%s/%s to %s\n", client.Scheme(), client.Bucket(), key, file)
		return nil
	}, telemetry.KeyPath.String(file))
}

func runList(cmd *cobra.Command, args []string) error {
	prefix := cfg.S3.Prefix
	if len(args) == 1 {
		prefix = objectKey(args[0])
	}

	ctx := cmd.Context()
	client, err := s3Client(ctx)
	if err != nil {
		return err
	}
	objects, err := client.List(ctx, prefix)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, o := range objects {
		fmt.Fprintf(w, "%-48s %10s  %s\n", o.Key, tui.FormatBytes(o.Size), o.LastModified.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(w, "%d objects\n", len(objects))
	return nil
}
