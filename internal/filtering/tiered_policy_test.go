package filtering

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyEngine_ClientAllowOutranksGlobalBlock(t *testing.T) {
	pe := NewPolicyEngine(PolicyEngineConfig{
		Enabled:          true,
		BlockAction:      ActionBlock,
		BlacklistDomains: []string{"ads.example.com"},
		ClientRules: map[string]ClientRule{
			"10.0.0.5": {Allow: []string{"ads.example.com"}},
		},
	})
	defer pe.Close()

	res := pe.EvaluateForClient("ads.example.com", "10.0.0.5")
	assert.Equal(t, ActionAllow, res.Action)
	assert.Equal(t, "client-allow", res.ListName)

	// A different client without the override still gets blocked.
	res = pe.EvaluateForClient("ads.example.com", "10.0.0.6")
	assert.Equal(t, ActionBlock, res.Action)
}

func TestPolicyEngine_GlobalAllowOutranksGroupBlock(t *testing.T) {
	pe := NewPolicyEngine(PolicyEngineConfig{
		Enabled:          true,
		BlockAction:      ActionBlock,
		WhitelistDomains: []string{"social.example.com"},
		ClientRules: map[string]ClientRule{
			"10.0.0.9": {Groups: []string{"kids"}},
		},
		GroupRules: map[string]GroupRule{
			"kids": {Block: []string{"social.example.com"}},
		},
	})
	defer pe.Close()

	// Global whitelist wins for an ungrouped client.
	res := pe.EvaluateForClient("social.example.com", "10.0.0.1")
	assert.Equal(t, ActionAllow, res.Action)

	// GroupAllow/GroupBlock only overrides ABOVE global allow for allow-tier,
	// but global allow still outranks group block per the nine-tier chain
	// (GlobalAllow sits above ClientBlock/GroupBlock). Confirm that ordering
	// explicitly: group block does NOT override an already-matched global
	// allow for a client in that group either.
	res = pe.EvaluateForClient("social.example.com", "10.0.0.9")
	assert.Equal(t, ActionAllow, res.Action)
}

func TestPolicyEngine_GroupAllowOutranksGlobalBlock(t *testing.T) {
	pe := NewPolicyEngine(PolicyEngineConfig{
		Enabled:          true,
		BlockAction:      ActionBlock,
		BlacklistDomains: []string{"news.example.com"},
		ClientRules: map[string]ClientRule{
			"10.0.0.9": {Groups: []string{"staff"}},
		},
		GroupRules: map[string]GroupRule{
			"staff": {Allow: []string{"news.example.com"}},
		},
	})
	defer pe.Close()

	res := pe.EvaluateForClient("news.example.com", "10.0.0.9")
	assert.Equal(t, ActionAllow, res.Action)
	assert.Equal(t, "group-allow:staff", res.ListName)

	res = pe.EvaluateForClient("news.example.com", "10.0.0.1")
	assert.Equal(t, ActionBlock, res.Action)
}

func TestPolicyEngine_RegexBlockBelowGlobalLists(t *testing.T) {
	pe := NewPolicyEngine(PolicyEngineConfig{
		Enabled:            true,
		BlockAction:        ActionBlock,
		WhitelistDomains:   []string{"trk.safe.example.com"},
		RegexBlockPatterns: []string{`^trk\..*\.example\.com$`},
	})
	defer pe.Close()

	// Global allow still wins over a matching regex block.
	res := pe.EvaluateForClient("trk.safe.example.com", "")
	assert.Equal(t, ActionAllow, res.Action)

	res = pe.EvaluateForClient("trk.other.example.com", "")
	assert.Equal(t, ActionBlock, res.Action)
	assert.Equal(t, "regex-block", res.ListName)
}

func TestPolicyEngine_RegexAllowOutranksRegexBlockAndGlobalBlock(t *testing.T) {
	pe := NewPolicyEngine(PolicyEngineConfig{
		Enabled:            true,
		BlockAction:        ActionBlock,
		RegexAllowPatterns: []string{`^cdn\d+\.example\.com$`},
		RegexBlockPatterns: []string{`^cdn\d+\.example\.com$`},
	})
	defer pe.Close()

	res := pe.EvaluateForClient("cdn42.example.com", "")
	assert.Equal(t, ActionAllow, res.Action)
	assert.Equal(t, "regex-allow", res.ListName)
}

func TestPolicyEngine_SetClientRuleAndGroupRuleAtRuntime(t *testing.T) {
	pe := NewPolicyEngine(PolicyEngineConfig{Enabled: true, BlockAction: ActionBlock})
	defer pe.Close()

	res := pe.EvaluateForClient("internal.example.com", "10.0.0.20")
	assert.Equal(t, ActionAllow, res.Action)

	pe.SetGroupRule("lockdown", GroupRule{Block: []string{"internal.example.com"}})
	pe.SetClientRule("10.0.0.20", ClientRule{Groups: []string{"lockdown"}})

	res = pe.EvaluateForClient("internal.example.com", "10.0.0.20")
	assert.Equal(t, ActionBlock, res.Action)
	assert.Equal(t, "group-block:lockdown", res.ListName)
}
