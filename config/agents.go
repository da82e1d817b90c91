package config

import "github.com/santiagomed/forge/core"

// BuiltinAgents are always available. Configured agents are appended after them.
func BuiltinAgents() []core.Agent {
	return []core.Agent{
		{
			ID:          "minimalist",
			Name:        "Minimalist",
			Instruction: "You favour restrained, minimal designs: generous whitespace, one accent colour and no decoration that does not serve the content.",
		},
		{
			ID:          "accessibility",
			Name:        "Accessibility reviewer",
			Instruction: "You build for everyone. Use semantic elements, labelled controls, visible focus states and colour contrast of at least 4.5:1.",
		},
		{
			ID:          "playful",
			Name:        "Playful",
			Instruction: "You make things fun: bold colours, friendly copy and small animations that reward interaction.",
		},
	}
}
