package workerproc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"audiobrand-backend/internal/snapshots"
)

const (
	exploratorySystem = "You are a brand strategist. Tie every brand insight to concrete musical direction: " +
		"instrumentation, tempo, mood and production. Answer with a single JSON object."
	finalSystem = "You are a brand strategist writing a structured jingle report. " +
		"Answer with a single JSON object that matches the requested schema exactly."
)

func writeBrand(b *strings.Builder, meta snapshots.Metadata) {
	b.WriteString("Brand Information:\n")
	fmt.Fprintf(b, "- Brand Name: %s\n", meta.BrandName)
	if meta.BrandWebsite != "" {
		fmt.Fprintf(b, "- Website: %s\n", meta.BrandWebsite)
	}
	b.WriteString("\n")
}

func writeConversation(b *strings.Builder, title string, msgs []snapshots.MessageEntry) {
	if len(msgs) == 0 {
		return
	}
	b.WriteString(title + ":\n")
	for _, m := range msgs {
		fmt.Fprintf(b, "%s: %s\n", m.Role, compact(m.Content))
	}
	b.WriteString("\n")
}

// exploratoryPrompt frames the exploratory request from the snapshot and an optional seed.
func exploratoryPrompt(snap snapshots.Snapshot, seed string) string {
	var b strings.Builder
	writeBrand(&b, snap.ProjectMetadata)
	if len(snap.ProjectMetadata.FindingsDraft) > 0 {
		b.WriteString("Previous Findings:\n" + compact(snap.ProjectMetadata.FindingsDraft) + "\n\n")
	}
	if len(snap.FileSummaries) > 0 {
		b.WriteString("Uploaded Files:\n")
		for _, f := range snap.FileSummaries {
			fmt.Fprintf(&b, "- %s (%s)\n", f.Filename, f.MimeType)
			if f.Excerpt != "" {
				fmt.Fprintf(&b, "  %s\n", f.Excerpt)
			}
		}
		b.WriteString("\n")
	}
	writeConversation(&b, "Recent Conversation", snap.RecentMessages)
	if s := strings.TrimSpace(seed); s != "" {
		b.WriteString("User Request: " + s + "\n\n")
	} else {
		b.WriteString("Provide an exploratory analysis covering positioning, audience, tone, sonic story, " +
			"instrumentation, lyrical hooks, brand promise and practical constraints.\n\n")
	}
	b.WriteString("Return the analysis as JSON.")
	return b.String()
}

// finalPrompt frames the rigid report request. The findings draft replaces the
// conversation when useFindings is set and a draft exists.
func finalPrompt(snap snapshots.Snapshot, useFindings bool, selected []int) string {
	var b strings.Builder
	writeBrand(&b, snap.ProjectMetadata)
	if useFindings && len(snap.ProjectMetadata.FindingsDraft) > 0 {
		b.WriteString("Use these findings as the basis:\n" + compact(snap.ProjectMetadata.FindingsDraft) + "\n\n")
	} else {
		writeConversation(&b, "Conversation Context", snap.RecentMessages)
	}
	if len(selected) > 0 {
		ideas := make([]string, 0, len(selected))
		for _, n := range selected {
			ideas = append(ideas, strconv.Itoa(n))
		}
		b.WriteString("Prioritize the ideas numbered " + strings.Join(ideas, ", ") + " from the findings.\n\n")
	}
	b.WriteString("Produce brand_findings, artistic_rationale, a jingle with description1 through description5 " +
		"(each with title, musical_elements, elevenlabs_prompt, feel, emotional_effect) and a composition_plan " +
		"with positive_global_styles and negative_global_styles.")
	return b.String()
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
