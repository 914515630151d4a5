package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/api/grpcapi"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

func watchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [STAGE]",
		Short: "Stream stage events over gRPC until interrupted",
		Long:  "Streams moving, position, inversion and error events. Without STAGE every stage is watched.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}

			conn, err := grpc.NewClient(opts.grpc, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", opts.grpc, err)
			}
			defer conn.Close()

			ctx := cmd.Context()
			if opts.token != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+opts.token)
			}

			out := cmd.OutOrStdout()
			return grpcapi.NewClient(conn).WatchPosition(ctx, name, func(msg *structpb.Struct) error {
				fmt.Fprintln(out, formatEvent(msg.AsMap()))
				return nil
			})
		},
	}
}

func formatEvent(e map[string]any) string {
	ts := ""
	if ms, ok := e["timestamp"].(float64); ok {
		ts = time.UnixMilli(int64(ms)).Format("15:04:05.000") + " "
	}
	head := fmt.Sprintf("%s%s %s", ts, nameColor.Sprint(e["stage"]), e["type"])

	switch e["type"] {
	case "moving":
		if moving, _ := e["moving"].(bool); moving {
			return head + " " + movingColor.Sprint("started")
		}
		return head + " " + idleColor.Sprint("stopped")
	case "position":
		return head + " " + formatAnyMap(e["position"])
	case "inversion":
		return head + " " + invertedColor.Sprint(formatAnyMap(e["axis_inverted"]))
	case "error":
		return head + " " + errorColor.Sprint(e["error"])
	}
	return head
}

func formatAnyMap(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}
