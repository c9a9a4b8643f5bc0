package security

// DefaultRules is the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "rm-root",
			Pattern:     `\brm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*|--recursive\s+--force|--force\s+--recursive)\s+(/|~|\$HOME)(\s|$|\*)`,
			Action:      ActionBlock,
			Severity:    SeverityCritical,
			Description: "Recursive force removal of a root or home directory",
		},
		{
			ID:          "fork-bomb",
			Pattern:     `:\(\)\s*\{\s*:\|:&\s*\};\s*:`,
			Action:      ActionBlock,
			Severity:    SeverityCritical,
			Description: "Fork bomb",
		},
		{
			ID:          "pipe-to-shell",
			Pattern:     `\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(sh|bash|zsh)\b`,
			Action:      ActionBlock,
			Severity:    SeverityHigh,
			Description: "Piping downloaded content into a shell",
		},
		{
			ID:          "disk-format",
			Pattern:     `\b(mkfs(\.\w+)?|fdisk|wipefs)\b`,
			Action:      ActionBlock,
			Severity:    SeverityCritical,
			Description: "Filesystem formatting or partitioning",
		},
		{
			ID:          "raw-device-write",
			Pattern:     `(\bdd\b.*\bof=/dev/|>\s*/dev/(sd|nvme|hd|disk))`,
			Action:      ActionBlock,
			Severity:    SeverityCritical,
			Description: "Raw write to a block device",
		},
		{
			ID:          "world-writable-root",
			Pattern:     `\bchmod\s+-R\s+0?777\s+/(\s|$)`,
			Action:      ActionBlock,
			Severity:    SeverityHigh,
			Description: "Recursive world-writable permissions on root",
		},
		{
			ID:          "sudo",
			Pattern:     `(^|[;&|]\s*)sudo\b`,
			Action:      ActionApprove,
			Severity:    SeverityMedium,
			Description: "Privilege escalation with sudo",
		},
		{
			ID:          "eval",
			Pattern:     `(^|[;&|]\s*)eval\b`,
			Action:      ActionWarn,
			Severity:    SeverityLow,
			Description: "Dynamic evaluation with eval",
		},
	}
}
