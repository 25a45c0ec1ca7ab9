package fraud

// RuleConfig tunes the closed rule set.
type RuleConfig struct {
	NewDeviceWeight     float64
	VPNWeight           float64
	ProxyWeight         float64
	TorWeight           float64
	ReputationFloor     float64
	ReputationWeight    float64
	AmountCeilingWeight float64
}

func (c RuleConfig) withDefaults() RuleConfig {
	if c.NewDeviceWeight == 0 {
		c.NewDeviceWeight = 20
	}
	if c.VPNWeight == 0 {
		c.VPNWeight = 15
	}
	if c.ProxyWeight == 0 {
		c.ProxyWeight = 15
	}
	if c.TorWeight == 0 {
		c.TorWeight = 35
	}
	if c.ReputationFloor == 0 {
		c.ReputationFloor = 30
	}
	if c.ReputationWeight == 0 {
		c.ReputationWeight = 25
	}
	if c.AmountCeilingWeight == 0 {
		c.AmountCeilingWeight = 30
	}
	return c
}

// RuleHit is one rule that fired.
type RuleHit struct {
	Rule   string  `json:"rule"`
	Weight float64 `json:"weight"`
}

// evaluateRules runs every rule against s. The score is the sum of fired
// weights capped at 100.
func evaluateRules(cfg RuleConfig, s Signal) (float64, []RuleHit) {
	var hits []RuleHit
	fire := func(rule string, weight float64) {
		hits = append(hits, RuleHit{Rule: rule, Weight: weight})
	}

	if s.NewDevice {
		fire("new_device", cfg.NewDeviceWeight)
	}
	if s.VPN {
		fire("vpn", cfg.VPNWeight)
	}
	if s.Proxy {
		fire("proxy", cfg.ProxyWeight)
	}
	if s.Tor {
		fire("tor", cfg.TorWeight)
	}
	if s.IPReputation != nil && *s.IPReputation < cfg.ReputationFloor {
		fire("ip_reputation", cfg.ReputationWeight)
	}
	if s.AmountCeiling > 0 && s.Amount > s.AmountCeiling {
		fire("amount_above_ceiling", cfg.AmountCeilingWeight)
	}

	var score float64
	for _, h := range hits {
		score += h.Weight
	}
	return clamp(score, 0, 100), hits
}
