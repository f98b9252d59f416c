// Package telemetry samples host metrics and serves them as JSON over HTTP.
// The agent runs as a separate binary next to the bot and never touches the
// gateway connection.
package telemetry

import (
	"context"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Health is the /healthz payload.
type Health struct {
	OK       bool  `json:"ok"`
	TSMillis int64 `json:"ts_ms"`
}

// EnvInfo identifies the host operating system.
type EnvInfo struct {
	Platform        string `json:"platform"`
	PlatformRelease string `json:"platform_release"`
}

// RAMInfo reports memory usage in megabytes. UsedMB counts total minus
// available, not the kernel's "used" figure. TargetCapMB is null unless
// configured or running on Windows.
type RAMInfo struct {
	UsedMB      float64 `json:"used_mb"`
	AvailMB     float64 `json:"avail_mb"`
	TotalMB     float64 `json:"total_mb"`
	Percent     float64 `json:"percent"`
	TargetCapMB *int64  `json:"target_cap_mb"`
}

// CPUInfo reports CPU load since the previous sample. Core counts are null
// when the platform cannot report them.
type CPUInfo struct {
	Percent       float64 `json:"percent"`
	CoresLogical  *int    `json:"cores_logical"`
	CoresPhysical *int    `json:"cores_physical"`
}

// BotProcess describes the matched bot process. All fields are null when no
// process matches.
type BotProcess struct {
	PID   *int32   `json:"pid"`
	RSSMB *float64 `json:"rss_mb"`
	Cmd   *string  `json:"cmd"`
}

// Snapshot is the /metrics.json payload.
type Snapshot struct {
	TSMillis   int64      `json:"ts_ms"`
	Host       string     `json:"host"`
	Env        EnvInfo    `json:"env"`
	RAM        RAMInfo    `json:"ram"`
	CPU        CPUInfo    `json:"cpu"`
	BotProcess BotProcess `json:"bot_process"`
	UptimeSec  int64      `json:"uptime_s"`
}

// Sampler collects one Snapshot per request. Collection failures degrade to
// zero or null fields rather than errors.
type Sampler struct {
	botMatch string
	capMB    *int64
	selfPID  int32
}

// NewSampler builds a sampler. botMatch filters bot process candidates by
// cmdline substring; when empty, the default kanaribot/discord filter
// applies. targetCapMB is an all-digit megabyte override for the reported
// RAM cap.
func NewSampler(botMatch, targetCapMB string) *Sampler {
	return &Sampler{
		botMatch: strings.ToLower(strings.TrimSpace(botMatch)),
		capMB:    targetCap(targetCapMB),
		selfPID:  int32(os.Getpid()),
	}
}

func (s *Sampler) Health() Health {
	return Health{OK: true, TSMillis: nowMillis()}
}

// Snapshot gathers host, memory, CPU and bot-process metrics.
func (s *Sampler) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{TSMillis: nowMillis()}
	snap.RAM.TargetCapMB = s.capMB

	if hostname, err := os.Hostname(); err == nil {
		snap.Host = hostname
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Env = EnvInfo{Platform: info.OS, PlatformRelease: info.KernelVersion}
		snap.UptimeSec = time.Now().Unix() - int64(info.BootTime)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		used := vm.Total - vm.Available
		snap.RAM.UsedMB = bytesToMB(used)
		snap.RAM.AvailMB = bytesToMB(vm.Available)
		snap.RAM.TotalMB = bytesToMB(vm.Total)
		snap.RAM.Percent = math.Round(float64(used)/float64(vm.Total)*1000) / 10
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPU.Percent = percents[0]
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPU.CoresLogical = &n
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		snap.CPU.CoresPhysical = &n
	}
	snap.BotProcess = s.pickBotProcess(ctx)
	return snap
}

// pickBotProcess returns the newest process whose cmdline matches the
// configured filter, skipping the agent itself.
func (s *Sampler) pickBotProcess(ctx context.Context) BotProcess {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return BotProcess{}
	}

	var best *process.Process
	var bestCmd string
	var bestCreated int64
	for _, p := range procs {
		if p.Pid == s.selfPID {
			continue
		}
		cmd, err := p.CmdlineWithContext(ctx)
		if err != nil || cmd == "" {
			continue
		}
		low := strings.ToLower(cmd)
		if s.botMatch != "" {
			if !strings.Contains(low, s.botMatch) {
				continue
			}
		} else if !strings.Contains(low, "kanaribot") && !strings.Contains(low, "discord") {
			continue
		}
		created, err := p.CreateTimeWithContext(ctx)
		if err != nil {
			created = 0
		}
		if best == nil || created > bestCreated {
			best, bestCmd, bestCreated = p, cmd, created
		}
	}
	if best == nil {
		return BotProcess{}
	}

	pid := best.Pid
	bp := BotProcess{PID: &pid, Cmd: &bestCmd}
	if info, err := best.MemoryInfoWithContext(ctx); err == nil && info != nil {
		rss := bytesToMB(info.RSS)
		bp.RSSMB = &rss
	}
	return bp
}

// targetCap parses an all-digit megabyte override. Windows hosts without an
// override report a 4096 MB cap; everything else reports none.
func targetCap(env string) *int64 {
	env = strings.TrimSpace(env)
	if env != "" && isDigits(env) {
		if v, err := strconv.ParseInt(env, 10, 64); err == nil {
			return &v
		}
	}
	if runtime.GOOS == "windows" {
		capMB := int64(4096)
		return &capMB
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func bytesToMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
