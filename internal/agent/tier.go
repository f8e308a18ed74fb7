package agent

// TierPolicy 将余额映射为生存等级。
type TierPolicy struct {
	LowComputeBelow float64
	CriticalBelow   float64
}

// DefaultTierPolicy 返回默认阈值。
func DefaultTierPolicy() TierPolicy {
	return TierPolicy{LowComputeBelow: 5, CriticalBelow: 1}
}

// Derive 根据余额推导生存等级。死亡永远不会被推导出来。
func (p TierPolicy) Derive(balance float64) SurvivalTier {
	switch {
	case balance < p.CriticalBelow:
		return TierCritical
	case balance < p.LowComputeBelow:
		return TierLowCompute
	default:
		return TierNormal
	}
}

// StatusForTier 返回活着的智能体在给定生存等级下的状态。
func StatusForTier(tier SurvivalTier) Status {
	switch tier {
	case TierLowCompute:
		return StatusLowCompute
	case TierCritical:
		return StatusCritical
	case TierDead:
		return StatusDead
	default:
		return StatusAlive
	}
}

// NextStatus 计算心跳后的状态：钱包仍为占位值时保持 deploying。
func NextStatus(current Status, walletKnown bool, tier SurvivalTier) Status {
	if current == StatusDead {
		return StatusDead
	}
	if !walletKnown && (current == StatusDeploying || current == StatusPending) {
		return current
	}
	return StatusForTier(tier)
}
