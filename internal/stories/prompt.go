package stories

import "strings"

// BuildRefinementPrompt embeds the source story and the instruction in the rewrite
// prompt shared by owner and guest refinements.
func BuildRefinementPrompt(sourceContent, instruction string) string {
	var builder strings.Builder
	builder.WriteString("ORIGINAL STORY:\n")
	builder.WriteString(strings.TrimSpace(sourceContent))
	builder.WriteString("\n\nUSER INSTRUCTION:\n")
	builder.WriteString(strings.TrimSpace(instruction))
	builder.WriteString("\n\nTASK:\n")
	builder.WriteString("Write a NEW version of the story based on the instruction above.\n")
	builder.WriteString("Do not output the instruction, just the story.")
	return builder.String()
}
