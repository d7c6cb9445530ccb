package utils

import (
	"errors"
	"fmt"
	"math"

	"hybrid-ids/internal/model"
	"hybrid-ids/internal/rules"
	"hybrid-ids/internal/rules/builtin"

	"github.com/sirupsen/logrus"
)

var ErrUnsupportedThreshold = errors.New("unsupported threshold value")

// RegisterBuiltinRules registers port_scan, traffic_spike and dns_burst in
// that order. A rule absent from the configuration runs with its defaults;
// entries from rules_file override entries of the same name.
func RegisterBuiltinRules(engine *rules.Engine, cfg *Config, logger *logrus.Logger) error {
	configured, err := ruleConfigs(cfg)
	if err != nil {
		return err
	}

	known := map[string]bool{
		builtin.PortScanRuleName:     true,
		builtin.TrafficSpikeRuleName: true,
		builtin.DNSBurstRuleName:     true,
	}
	for name := range configured {
		if !known[name] {
			logger.Warnf("Unknown rule type: %s", name)
		}
	}

	built := make([]rules.RuleInterface, 0, 3)

	rc := lookupRule(configured, builtin.PortScanRuleName)
	ports, err := intThreshold(rc, "unique_dst_ports")
	if err != nil {
		return err
	}
	syn, err := intThreshold(rc, "syn_count")
	if err != nil {
		return err
	}
	portScan := builtin.NewPortScanRule(rc.Enabled, rc.Severity, ports, syn, 0, logger)
	if err := applyConfidence(rc, portScan); err != nil {
		return err
	}
	built = append(built, portScan)

	rc = lookupRule(configured, builtin.TrafficSpikeRuleName)
	pkts, err := intThreshold(rc, "pkt_count")
	if err != nil {
		return err
	}
	bytes, err := intThreshold(rc, "byte_count")
	if err != nil {
		return err
	}
	spike := builtin.NewTrafficSpikeRule(rc.Enabled, rc.Severity, pkts, bytes, 0, logger)
	if err := applyConfidence(rc, spike); err != nil {
		return err
	}
	built = append(built, spike)

	rc = lookupRule(configured, builtin.DNSBurstRuleName)
	queries, err := intThreshold(rc, "dns_query_count")
	if err != nil {
		return err
	}
	burst := builtin.NewDNSBurstRule(rc.Enabled, rc.Severity, queries, 0, logger)
	if err := applyConfidence(rc, burst); err != nil {
		return err
	}
	built = append(built, burst)

	for _, rule := range built {
		engine.RegisterRule(rule)
		if rule.IsEnabled() {
			logger.Infof("Registered rule: %s", rule.Name())
		} else {
			logger.Infof("Rule %s is disabled", rule.Name())
		}
	}
	return nil
}

func ruleConfigs(cfg *Config) (map[string]model.Rule, error) {
	configured := make(map[string]model.Rule, len(cfg.Rules))
	for _, r := range cfg.Rules {
		configured[r.Name] = r
	}
	if cfg.RulesFile != "" {
		fromFile, err := rules.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		for _, r := range fromFile {
			configured[r.Name] = r
		}
	}
	return configured, nil
}

func lookupRule(configured map[string]model.Rule, name string) model.Rule {
	if rc, ok := configured[name]; ok {
		return rc
	}
	return model.Rule{Name: name, Enabled: true}
}

// intThreshold returns 0 for an absent key so the rule keeps its default.
func intThreshold(rc model.Rule, key string) (int64, error) {
	v, ok := rc.Thresholds[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float32:
		return wholeNumber(rc, key, float64(n))
	case float64:
		return wholeNumber(rc, key, n)
	default:
		return 0, fmt.Errorf("rule %s threshold %s (%T): %w", rc.Name, key, v, ErrUnsupportedThreshold)
	}
}

// wholeNumber accepts 40.0 for a count but not 9.5
func wholeNumber(rc model.Rule, key string, f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("rule %s threshold %s is not a whole number (%v): %w", rc.Name, key, f, ErrUnsupportedThreshold)
	}
	return int64(f), nil
}

type confidenceSetter interface {
	SetConfidence(float64)
}

// applyConfidence overrides the rule's default confidence when one is
// configured. Any value in [0, 1] is accepted.
func applyConfidence(rc model.Rule, rule confidenceSetter) error {
	if v, ok := rc.Thresholds["confidence"]; !ok || v == nil {
		return nil
	}
	c, err := floatThreshold(rc, "confidence")
	if err != nil {
		return err
	}
	if math.IsNaN(c) || c < 0 || c > 1 {
		return fmt.Errorf("rule %s confidence %v outside [0, 1]: %w", rc.Name, c, ErrUnsupportedThreshold)
	}
	rule.SetConfidence(c)
	return nil
}

func floatThreshold(rc model.Rule, key string) (float64, error) {
	v, ok := rc.Thresholds[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("rule %s threshold %s (%T): %w", rc.Name, key, v, ErrUnsupportedThreshold)
	}
}
