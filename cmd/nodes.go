package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/cache"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/node"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/db"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

var probeLive bool

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "查看音频节点状态",
	Long:  `默认读取运行中实例写入 Redis 的节点状态；加 --live 时直接探测配置中的节点。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var statuses []model.NodeStatus
		var err error
		if probeLive {
			statuses, err = liveStatuses(cmd.Context())
		} else {
			statuses, err = cachedStatuses(cmd.Context())
		}
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			fmt.Println("没有节点状态")
			return nil
		}
		printNodes(os.Stdout, statuses)
		return nil
	},
}

func init() {
	nodesCmd.Flags().BoolVar(&probeLive, "live", false, "直接探测节点而不是读取 Redis")
	rootCmd.AddCommand(nodesCmd)
}

func cachedStatuses(ctx context.Context) ([]model.NodeStatus, error) {
	client, err := db.ConnectRedis(cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return cache.NewStateCache(client, cfg.StateTTL).GetNodes(ctx)
}

func liveStatuses(ctx context.Context) ([]model.NodeStatus, error) {
	nodes, err := cfg.Nodes()
	if err != nil {
		return nil, err
	}
	monitor := node.NewMonitor()
	prober := node.NewProber(monitor, nil, cfg.ProbeInterval)
	prober.SetEndpoints(endpoints(nodes))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	prober.ProbeAll(ctx)
	return nodeStatuses(monitor.Snapshot()), nil
}

func stateColor(state string) *color.Color {
	switch state {
	case node.Connected.String():
		return color.New(color.FgHiGreen)
	case node.Connecting.String(), node.Reconnecting.String():
		return color.New(color.FgHiYellow)
	default:
		return color.New(color.FgHiRed)
	}
}

func printNodes(out io.Writer, statuses []model.NodeStatus) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tPLAYERS\tCPU\tMEM\tPING\tSCORE")
	for _, st := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%.1f%%\t%dMB\t%dms\t%.1f\n",
			st.Name,
			stateColor(st.State).Sprint(st.State),
			st.PlayingPlayers, st.Players,
			st.CPU*100,
			st.MemoryUsed/1024/1024,
			st.PingMs,
			st.Score,
		)
	}
	w.Flush()
}
