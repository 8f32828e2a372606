package replay

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/perceptlink-go/internal/network/connector"
	"github.com/lk2023060901/perceptlink-go/pkg/log"
	"github.com/lk2023060901/perceptlink-go/pkg/metrics"
	"github.com/lk2023060901/perceptlink-go/pkg/util/funcutil"
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

// Config 控制回放行为。
type Config struct {
	// Address 为回放目标地址。
	Address string `mapstructure:"address" json:"address"`
	// CameraGroup 非空时将所有端口重映射到该相机组（0-99）。
	CameraGroup *int `mapstructure:"camera-group" json:"camera-group"`
	// AnalyzeOnly 为 true 时只生成回放计划，不发送数据。
	AnalyzeOnly bool `mapstructure:"analyze-only" json:"analyze-only"`

	Sender connector.Config `mapstructure:"sender" json:"sender"`
}

// DefaultConfig 回放到本机，不重映射端口。
func DefaultConfig() Config {
	return Config{
		Address: "127.0.0.1",
		Sender:  connector.DefaultConfig(),
	}
}

// Step 表示回放中的一次发送：先等待 Wait，再发送 Payload。
type Step struct {
	Wait    time.Duration
	Payload []byte
}

// PortPlan 为单个端口的回放序列。
type PortPlan struct {
	Port  uint16
	Steps []Step
}

// Plan 为完整的回放计划，端口按升序排列。
type Plan struct {
	Ports []PortPlan
	Total int
}

// CameraGroup 返回端口号后两位表示的相机组，端口不是四位数时返回错误。
func CameraGroup(port uint16) (int, error) {
	if port < 1000 || port > 9999 {
		return 0, merr.WrapErrParameterInvalidMsg("port %d is not 4 digits long", port)
	}
	return int(port % 100), nil
}

// RemapPort 将端口的后两位替换为 group。
func RemapPort(port uint16, group int) (uint16, error) {
	if _, err := CameraGroup(port); err != nil {
		return 0, err
	}
	if group < 0 || group > 99 {
		return 0, merr.WrapErrParameterInvalid("0-99", strconv.Itoa(group), "camera group")
	}
	remapped, err := strconv.ParseUint(fmt.Sprintf("%02d%02d", port/100, group), 10, 16)
	if err != nil {
		return 0, merr.WrapErrParameterInvalidMsg("remap port %d: %s", port, err.Error())
	}
	return uint16(remapped), nil
}

// BuildPlan 按端口分组并按时间排序，计算每条记录发送前的等待时间。
// 每个端口的第一条记录以所有记录中最早的时间为基准。
func BuildPlan(records []Record, cameraGroup *int) (*Plan, error) {
	if len(records) == 0 {
		return &Plan{}, nil
	}

	byPort := lo.GroupBy(records, func(r Record) uint16 { return r.Port })
	t0 := lo.MinBy(records, func(a, b Record) bool { return a.ReceivedAt.Before(b.ReceivedAt) }).ReceivedAt

	ports := lo.Keys(byPort)
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })

	plan := &Plan{Ports: make([]PortPlan, 0, len(ports)), Total: len(records)}
	for _, port := range ports {
		recs := byPort[port]
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].ReceivedAt.Before(recs[j].ReceivedAt) })

		pp := PortPlan{Port: port, Steps: make([]Step, 0, len(recs))}
		prev := t0
		for _, rec := range recs {
			pp.Steps = append(pp.Steps, Step{Wait: rec.ReceivedAt.Sub(prev), Payload: rec.Payload})
			prev = rec.ReceivedAt
		}
		plan.Ports = append(plan.Ports, pp)
	}

	if cameraGroup != nil {
		seen := make(map[uint16]uint16, len(plan.Ports))
		for i := range plan.Ports {
			remapped, err := RemapPort(plan.Ports[i].Port, *cameraGroup)
			if err != nil {
				return nil, err
			}
			if from, ok := seen[remapped]; ok {
				return nil, merr.WrapErrParameterInvalidMsg("ports %d and %d both remap to %d", from, plan.Ports[i].Port, remapped)
			}
			seen[remapped] = plan.Ports[i].Port
			plan.Ports[i].Port = remapped
		}
		sort.Slice(plan.Ports, func(i, j int) bool { return plan.Ports[i].Port < plan.Ports[j].Port })
	}
	return plan, nil
}

// Replayer 按录制时的节奏将记录重新发送到各端口。
type Replayer struct {
	cfg  Config
	plan *Plan
}

// NewReplayer 根据记录生成回放计划。
func NewReplayer(records []Record, cfg Config) (*Replayer, error) {
	if cfg.Address == "" {
		return nil, merr.WrapErrParameterMissing("address", "replay")
	}
	plan, err := BuildPlan(records, cfg.CameraGroup)
	if err != nil {
		return nil, err
	}
	return &Replayer{cfg: cfg, plan: plan}, nil
}

// Plan 返回回放计划。
func (r *Replayer) Plan() *Plan {
	return r.plan
}

// Replay 为每个端口建立一个 Sender 并发回放，直到全部发送完成、出错或 ctx 取消。
// AnalyzeOnly 时只输出计划摘要。
func (r *Replayer) Replay(ctx context.Context) error {
	logger := log.Ctx(ctx).With(log.FieldModule("replay"))
	for _, pp := range r.plan.Ports {
		logger.Info("replay plan", log.FieldPort(pp.Port), zap.Int("frames", len(pp.Steps)))
	}
	if r.cfg.AnalyzeOnly {
		logger.Info("analyze only, skip sending", zap.Int("total", r.plan.Total))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pp := range r.plan.Ports {
		pp := pp
		g.Go(func() error {
			return r.replayPort(gctx, pp, logger.With(log.FieldPort(pp.Port)))
		})
	}
	return g.Wait()
}

func (r *Replayer) replayPort(ctx context.Context, pp PortPlan, logger *log.MLogger) error {
	sender, err := connector.Dial(ctx, connector.Endpoint{Address: r.cfg.Address, Port: pp.Port}, r.cfg.Sender)
	if err != nil {
		return err
	}
	defer sender.Close()

	counter := metrics.ReplayFrames.WithLabelValues(metrics.PortLabel(pp.Port))
	for i, step := range pp.Steps {
		if err := funcutil.SleepContext(ctx, step.Wait); err != nil {
			logger.Info("replay interrupted", zap.Int("sent", i))
			return err
		}
		if err := sender.Send(step.Payload); err != nil {
			return err
		}
		counter.Inc()
	}
	logger.Info("replay done", zap.Int("sent", len(pp.Steps)))
	return nil
}
