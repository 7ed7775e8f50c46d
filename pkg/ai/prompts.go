package ai

import (
	"fmt"
	"strings"
)

const LinkSystemPrompt = `You are a cyber threat intelligence analyst who completes knowledge graphs built from threat reports.`

const LinkPrompt = `
# Task Context
A knowledge graph was extracted from the threat report below. It falls apart into disconnected parts.
You connect two of these parts by naming the relation between one entity of each part.

# Background Data
<report>
%s
</report>

# Detailed Task Description & Rules
- The two entities are "%s" and "%s".
- Decide which of the two entities is the subject and which is the object.
- Copy both entity names exactly as given. Do not shorten, translate or rephrase them.
- The relation is a short verb phrase in lower case (e.g. "uses", "targets", "is attributed to").
- Base the relation on the report. If the report does not state one, give the most plausible relation.

# Output Formatting
Return a JSON object with this structure:
{
  "predicted_triple": {
    "subject": "<entity name>",
    "relation": "<relation>",
    "object": "<entity name>"
  }
}
`

// RenderLinkPrompt fills LinkPrompt with the report and both entity names.
func RenderLinkPrompt(mainNode, topicNode, report string) string {
	return fmt.Sprintf(LinkPrompt, strings.TrimSpace(report), mainNode, topicNode)
}
