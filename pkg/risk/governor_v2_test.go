// 文件: pkg/risk/governor_v2_test.go
// V2 治理器测试 - 新闻禁入、会话上限、连亏冷却

package risk

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurum.com/pkg/atomicio"
)

func newTestGovernorV2(t *testing.T, cfg Config) *GovernorV2 {
	t.Helper()
	return NewGovernorV2(cfg, atomicio.NewStore(atomicio.DefaultConfig()),
		filepath.Join(t.TempDir(), "risk_state_v2.json"))
}

var v2t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// =============================================================================
// 测试: 连亏冷却
// 三连亏后 t0+1min 拦截，t0+31min 放行
// =============================================================================

func TestLossStreakCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStreakV2 = 3
	cfg.CooldownAfterLoss = 30 * time.Minute
	g := newTestGovernorV2(t, cfg)

	for i := 0; i < 3; i++ {
		require.NoError(t, g.OnTradeClosed(-10.0, v2t0))
	}

	ok, reason := g.CanTrade(v2t0.Add(time.Minute))
	assert.False(t, ok)
	assert.Contains(t, reason, "loss-streak cooldown")

	ok, _ = g.CanTrade(v2t0.Add(31 * time.Minute))
	assert.True(t, ok)
}

func TestWinClearsStreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStreakV2 = 3
	g := newTestGovernorV2(t, cfg)

	require.NoError(t, g.OnTradeClosed(-10.0, v2t0))
	require.NoError(t, g.OnTradeClosed(-10.0, v2t0))
	require.NoError(t, g.OnTradeClosed(25.0, v2t0)) // 赢单清空

	s := g.StateSummary(v2t0)
	assert.Zero(t, s.ConsecutiveLosses)
	assert.True(t, s.CanTradeNow)
}

// =============================================================================
// 测试: 新闻禁入
// =============================================================================

func TestNewsBlackout(t *testing.T) {
	cfg := DefaultConfig() // high: 30+30 分钟
	g := newTestGovernorV2(t, cfg)

	require.NoError(t, g.ApplyNewsBlackout(ImpactHigh, v2t0))

	ok, reason := g.CanTrade(v2t0.Add(45 * time.Minute))
	assert.False(t, ok)
	assert.Contains(t, reason, "news blackout")

	ok, _ = g.CanTrade(v2t0.Add(61 * time.Minute))
	assert.True(t, ok)
}

func TestBlackoutNeverShrinks(t *testing.T) {
	g := newTestGovernorV2(t, DefaultConfig())

	require.NoError(t, g.ApplyNewsBlackout(ImpactHigh, v2t0)) // 到 t0+60min
	require.NoError(t, g.ApplyNewsBlackout(ImpactLow, v2t0))  // 到 t0+10min，不得回缩

	ok, _ := g.CanTrade(v2t0.Add(30 * time.Minute))
	assert.False(t, ok)
}

func TestUnknownImpactFallsBack(t *testing.T) {
	g := newTestGovernorV2(t, DefaultConfig())

	// 未知等级按低影响兜底 (5+5 分钟)
	require.NoError(t, g.ApplyNewsBlackout(ImpactLevel("extreme"), v2t0))

	ok, _ := g.CanTrade(v2t0.Add(5 * time.Minute))
	assert.False(t, ok)
	ok, _ = g.CanTrade(v2t0.Add(11 * time.Minute))
	assert.True(t, ok)
}

func TestClearBlackout(t *testing.T) {
	g := newTestGovernorV2(t, DefaultConfig())

	require.NoError(t, g.ApplyNewsBlackout(ImpactHigh, v2t0))
	require.NoError(t, g.ClearBlackout())

	ok, _ := g.CanTrade(v2t0.Add(time.Minute))
	assert.True(t, ok)
}

// =============================================================================
// 测试: 会话笔数上限与日切
// =============================================================================

func TestSessionTradeCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradesPerSession = 2
	g := newTestGovernorV2(t, cfg)

	require.NoError(t, g.OnTradeClosed(5.0, v2t0))
	require.NoError(t, g.OnTradeClosed(5.0, v2t0))

	ok, reason := g.CanTrade(v2t0.Add(time.Minute))
	assert.False(t, ok)
	assert.Contains(t, reason, "session trade limit")

	// 跨日自动清零
	nextDay := v2t0.Add(24 * time.Hour)
	ok, _ = g.CanTrade(nextDay)
	assert.True(t, ok)
	assert.Zero(t, g.StateSummary(nextDay).TradesToday)
}

func TestResetSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradesPerSession = 1
	g := newTestGovernorV2(t, cfg)

	require.NoError(t, g.OnTradeClosed(5.0, v2t0))
	ok, _ := g.CanTrade(v2t0)
	assert.False(t, ok)

	require.NoError(t, g.ResetSession(v2t0))
	ok, _ = g.CanTrade(v2t0)
	assert.True(t, ok)
}

func TestClearLossStreakAdmin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStreakV2 = 2
	g := newTestGovernorV2(t, cfg)

	require.NoError(t, g.OnTradeClosed(-1.0, v2t0))
	require.NoError(t, g.OnTradeClosed(-1.0, v2t0))
	ok, _ := g.CanTrade(v2t0)
	assert.False(t, ok)

	require.NoError(t, g.ClearLossStreak())
	ok, _ = g.CanTrade(v2t0)
	assert.True(t, ok)
}

// =============================================================================
// 测试: 检查顺序 - 禁入优先于其他拦截
// =============================================================================

func TestBlackoutCheckedFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradesPerSession = 1
	g := newTestGovernorV2(t, cfg)

	require.NoError(t, g.OnTradeClosed(5.0, v2t0)) // 会话已满
	require.NoError(t, g.ApplyNewsBlackout(ImpactHigh, v2t0))

	_, reason := g.CanTrade(v2t0.Add(time.Minute))
	assert.Contains(t, reason, "news blackout")
}

// =============================================================================
// 测试: 状态报告
// =============================================================================

func TestStateSummaryFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradesPerSession = 4
	cfg.MaxStreakV2 = 2
	cfg.CooldownAfterLoss = 30 * time.Minute
	g := newTestGovernorV2(t, cfg)

	require.NoError(t, g.OnTradeClosed(-1.0, v2t0))
	require.NoError(t, g.OnTradeClosed(-1.0, v2t0))

	s := g.StateSummary(v2t0.Add(10 * time.Minute))
	assert.Equal(t, 2, s.ConsecutiveLosses)
	assert.Equal(t, 2, s.TradesToday)
	assert.Equal(t, 4, s.SessionLimit)
	assert.InDelta(t, 50.0, s.SessionUsagePct, 1e-9)
	assert.True(t, s.CooldownActive)
	assert.InDelta(t, 20.0, s.CooldownRemainingMin, 0.01)
	assert.False(t, s.BlackoutActive)
	assert.False(t, s.CanTradeNow)
	assert.Equal(t, "2026-03-02", s.CurrentDate)
}

// =============================================================================
// 测试: 状态跨实例持久化
// =============================================================================

func TestV2StateSurvivesRestart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStreakV2 = 3
	path := filepath.Join(t.TempDir(), "risk_state_v2.json")
	store := atomicio.NewStore(atomicio.DefaultConfig())

	g1 := NewGovernorV2(cfg, store, path)
	for i := 0; i < 3; i++ {
		require.NoError(t, g1.OnTradeClosed(-10.0, v2t0))
	}

	g2 := NewGovernorV2(cfg, store, path)
	ok, reason := g2.CanTrade(v2t0.Add(time.Minute))
	assert.False(t, ok)
	assert.Contains(t, reason, "loss-streak cooldown")
}
